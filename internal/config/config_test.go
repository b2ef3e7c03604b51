package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars!!"

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	cfg, err := Load(fs)
	require.NoError(t, err)
	return cfg
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plausch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t)

	assert.Equal(t, 5005, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Tokens.ConfirmationTTL)
	assert.Equal(t, 100*time.Hour, cfg.Tokens.SessionTTL)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.Equal(t, 4, cfg.Mail.Workers)
	assert.Equal(t, 20*time.Second, cfg.Mail.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://plausch@localhost/plausch")
	t.Setenv("SMTP_USER", "relay-user")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := load(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, testSecret, cfg.Tokens.Secret)
	assert.Equal(t, "postgres://plausch@localhost/plausch", cfg.Database.DSN)
	assert.Equal(t, "relay-user", cfg.Mail.Username)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_FileThenFlags(t *testing.T) {
	path := writeYAML(t, `
server:
  port: 6000
  allowed_origins:
    - https://plausch.live
tokens:
  secret: from-the-file-0123456789
  confirmation_ttl: 2h
mail:
  host: smtp-relay.brevo.com
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg := load(t, "--config", path)
		assert.Equal(t, 6000, cfg.Server.Port)
		assert.Equal(t, []string{"https://plausch.live"}, cfg.Server.AllowedOrigins)
		assert.Equal(t, "from-the-file-0123456789", cfg.Tokens.Secret)
		assert.Equal(t, 2*time.Hour, cfg.Tokens.ConfirmationTTL)
		assert.Equal(t, "smtp-relay.brevo.com", cfg.Mail.Host)
		// Keys missing from the file keep their defaults.
		assert.Equal(t, 100*time.Hour, cfg.Tokens.SessionTTL)
	})

	t.Run("explicit flags override the file", func(t *testing.T) {
		cfg := load(t, "--config", path, "--server.port", "7000", "--tokens.confirmation_ttl", "3h")
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, 3*time.Hour, cfg.Tokens.ConfirmationTTL)
	})
}

func TestLoad_MissingFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}))

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := load(t)
		cfg.Tokens.Secret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short secret", func(c *Config) { c.Tokens.Secret = "short" }, "tokens.secret"},
		{"confirmation ttl too short", func(c *Config) { c.Tokens.ConfirmationTTL = 30 * time.Minute }, "tokens.confirmation_ttl"},
		{"confirmation ttl too long", func(c *Config) { c.Tokens.ConfirmationTTL = 48 * time.Hour }, "tokens.confirmation_ttl"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongodb" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "unknown level"},
		{"no workers", func(c *Config) { c.Mail.Workers = 0 }, "mail.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
