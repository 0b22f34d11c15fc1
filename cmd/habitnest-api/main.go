package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/auth"
	"github.com/MarcoPoloResearchLab/habitnest/internal/config"
	"github.com/MarcoPoloResearchLab/habitnest/internal/database"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"github.com/MarcoPoloResearchLab/habitnest/internal/logging"
	"github.com/MarcoPoloResearchLab/habitnest/internal/scheduler"
	"github.com/MarcoPoloResearchLab/habitnest/internal/server"
	"github.com/MarcoPoloResearchLab/habitnest/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile    string
	envFile    string
	evalUserID string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitnest-api",
		Short: "HabitNest habit tracking backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one achievement evaluation pass for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), evalUserID)
		},
	}
	evaluateCmd.Flags().StringVar(&evalUserID, "user", "", "User id to evaluate")
	if err := evaluateCmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and apply pending migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(evaluateCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Access token signing secret (overrides env)")
	flags.String("timezone", defaults.GetString("calendar.timezone"), "IANA timezone that defines calendar days")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "calendar.timezone", "timezone")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type application struct {
	config       config.AppConfig
	logger       *zap.Logger
	tokens       *auth.TokenIssuer
	accounts     *users.Service
	habits       *habits.Service
	achievements *achievements.Service
	trigger      *achievements.Trigger
	realtime     *server.RealtimeDispatcher
}

func buildApplication() (*application, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = logger.Sync()
	}

	app, err := wireServices(appConfig, logger, db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return app, cleanup, nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	return database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
}

func wireServices(appConfig config.AppConfig, logger *zap.Logger, db *gorm.DB) (*application, error) {
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	accounts, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	habitService, err := habits.NewService(habits.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: habits.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	retryPolicy := apperrors.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = appConfig.UnlockMaxAttempts

	catalog := achievements.DefaultCatalog()
	ledger, err := achievements.NewLedger(achievements.LedgerConfig{
		Database: db,
		Catalog:  catalog,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	achievementService, err := achievements.NewService(achievements.ServiceConfig{
		Ledger:      ledger,
		Catalog:     catalog,
		RetryPolicy: retryPolicy,
		Location:    appConfig.Location,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	realtime := server.NewRealtimeDispatcher()
	trigger, err := achievements.NewTrigger(achievements.TriggerConfig{
		Service:     achievementService,
		Source:      habitService,
		Publisher:   realtime,
		RetryPolicy: retryPolicy,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:       appConfig,
		logger:       logger,
		tokens:       tokenManager,
		accounts:     accounts,
		habits:       habitService,
		achievements: achievementService,
		trigger:      trigger,
		realtime:     realtime,
	}, nil
}

func runServer(ctx context.Context) error {
	app, cleanup, err := buildApplication()
	if err != nil {
		return err
	}
	defer cleanup()
	logger := app.logger

	background := server.NewBackgroundTasks()
	defer func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := background.WaitContext(waitCtx); err != nil {
			logger.Warn("achievement evaluations still running at shutdown", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   app.tokens,
		Accounts:       app.accounts,
		Habits:         app.habits,
		Achievements:   app.achievements,
		Trigger:        app.trigger,
		Realtime:       app.realtime,
		Background:     background,
		Location:       app.config.Location,
		AllowedOrigins: app.config.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	reconciler, err := scheduler.NewReconciler(scheduler.ReconcilerConfig{
		Retrier:  app.trigger,
		Interval: app.config.ReconcileInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	reconciler.Start()
	defer func() {
		if err := reconciler.Shutdown(); err != nil {
			logger.Warn("reconciler shutdown failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runEvaluate(ctx context.Context, rawUserID string) error {
	userID, err := habits.NewUserID(rawUserID)
	if err != nil {
		return err
	}

	app, cleanup, err := buildApplication()
	if err != nil {
		return err
	}
	defer cleanup()

	newly, err := app.trigger.Fire(ctx, userID)
	for _, key := range newly {
		fmt.Fprintln(os.Stdout, key)
	}
	if err != nil {
		return err
	}
	app.logger.Info("evaluation finished", zap.String("user_id", userID.String()), zap.Int("unlocked", len(newly)))
	return nil
}

func runMigrate() error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
