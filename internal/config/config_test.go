package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set(keySigningSecret, "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("expected one hour ttl, got %s", cfg.TokenTTL)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("expected UTC location, got %v", cfg.Location)
	}
	if cfg.UnlockMaxAttempts != 3 || cfg.ReconcileInterval != time.Minute {
		t.Fatalf("unexpected achievement settings: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HABITNEST_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("HABITNEST_CALENDAR_TIMEZONE", "Europe/Berlin")
	t.Setenv("HABITNEST_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.SigningSecret)
	}
	if cfg.Location.String() != "Europe/Berlin" {
		t.Fatalf("expected Berlin location, got %s", cfg.Location)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{name: "missing secret", values: map[string]any{}, wantErr: keySigningSecret},
		{name: "postgres without dsn", values: map[string]any{keySigningSecret: "s", keyDatabaseDriver: DriverPostgres}, wantErr: keyDatabaseDSN},
		{name: "unknown driver", values: map[string]any{keySigningSecret: "s", keyDatabaseDriver: "mysql"}, wantErr: keyDatabaseDriver},
		{name: "bad timezone", values: map[string]any{keySigningSecret: "s", keyTimezone: "Mars/Olympus"}, wantErr: keyTimezone},
		{name: "zero attempts", values: map[string]any{keySigningSecret: "s", keyUnlockMaxAttempts: 0}, wantErr: keyUnlockMaxAttempts},
		{name: "zero interval", values: map[string]any{keySigningSecret: "s", keyReconcileInterval: 0}, wantErr: keyReconcileInterval},
		{name: "zero ttl", values: map[string]any{keySigningSecret: "s", keyTokenTTLMinutes: 0}, wantErr: keyTokenTTLMinutes},
		{name: "origin without scheme", values: map[string]any{keySigningSecret: "s", keyAllowedOrigins: "app.example.com"}, wantErr: keyAllowedOrigins},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range tc.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected error mentioning %s", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadAcceptsPostgresDSN(t *testing.T) {
	configViper := NewViper()
	configViper.Set(keySigningSecret, "s")
	configViper.Set(keyDatabaseDriver, "Postgres")
	configViper.Set(keyDatabaseDSN, "postgres://localhost/habitnest")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("expected normalized driver, got %q", cfg.DatabaseDriver)
	}
}
