package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "HABITNEST"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "habitnest.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 60
	defaultTimezone           = "UTC"
	defaultUnlockMaxAttempts  = 3
	defaultReconcileInterval  = 60
	defaultAllowedOrigins     = wildcardOrigin
	wildcardOrigin            = "*"
	keyHTTPAddress            = "http.address"
	keyDatabaseDriver         = "database.driver"
	keyDatabasePath           = "database.path"
	keyDatabaseDSN            = "database.dsn"
	keyLogLevel               = "log.level"
	keySigningSecret          = "auth.signing_secret"
	keyTokenTTLMinutes        = "auth.token_ttl_minutes"
	keyTimezone               = "calendar.timezone"
	keyUnlockMaxAttempts      = "achievements.unlock_max_attempts"
	keyReconcileInterval      = "achievements.reconcile_interval_seconds"
	keyAllowedOrigins         = "cors.allowed_origins"
	originSeparator           = ","
	maximumReconcileInSeconds = 24 * 60 * 60
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	Location          *time.Location
	UnlockMaxAttempts int
	ReconcileInterval time.Duration
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyDatabaseDriver, defaultDatabaseDriver)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyDatabaseDSN, "")
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keySigningSecret, "")
	configViper.SetDefault(keyTokenTTLMinutes, defaultTokenTTLMinutes)
	configViper.SetDefault(keyTimezone, defaultTimezone)
	configViper.SetDefault(keyUnlockMaxAttempts, defaultUnlockMaxAttempts)
	configViper.SetDefault(keyReconcileInterval, defaultReconcileInterval)
	configViper.SetDefault(keyAllowedOrigins, defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       strings.TrimSpace(configViper.GetString(keyHTTPAddress)),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString(keyDatabaseDriver))),
		DatabasePath:      strings.TrimSpace(configViper.GetString(keyDatabasePath)),
		DatabaseDSN:       strings.TrimSpace(configViper.GetString(keyDatabaseDSN)),
		LogLevel:          configViper.GetString(keyLogLevel),
		SigningSecret:     configViper.GetString(keySigningSecret),
		TokenTTL:          time.Duration(configViper.GetInt(keyTokenTTLMinutes)) * time.Minute,
		UnlockMaxAttempts: configViper.GetInt(keyUnlockMaxAttempts),
		ReconcileInterval: time.Duration(configViper.GetInt(keyReconcileInterval)) * time.Second,
		AllowedOrigins:    splitOrigins(configViper.GetString(keyAllowedOrigins)),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString(keyTimezone)))
	if err != nil {
		return AppConfig{}, fmt.Errorf("%s is invalid: %w", keyTimezone, err)
	}
	cfg.Location = location

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("%s is required", keySigningSecret)
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("%s is required", keyHTTPAddress)
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("%s is required", keyDatabasePath)
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%s is required when %s is %s", keyDatabaseDSN, keyDatabaseDriver, DriverPostgres)
		}
	default:
		return fmt.Errorf("%s must be %s or %s", keyDatabaseDriver, DriverSQLite, DriverPostgres)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", keyTokenTTLMinutes)
	}
	if c.UnlockMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", keyUnlockMaxAttempts)
	}
	if c.ReconcileInterval <= 0 || c.ReconcileInterval > maximumReconcileInSeconds*time.Second {
		return fmt.Errorf("%s must be between 1 and %d", keyReconcileInterval, maximumReconcileInSeconds)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("%s is required", keyAllowedOrigins)
	}
	for _, origin := range c.AllowedOrigins {
		if origin != wildcardOrigin && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%s contains invalid origin %q", keyAllowedOrigins, origin)
		}
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, originSeparator) {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
