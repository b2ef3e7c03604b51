// Package config loads the service configuration.
//
// LOAD ORDER (later wins):
//  1. flag defaults, seeded from environment variables (PORT, DB_PATH,
//     DATABASE_URL, JWT_SECRET, SMTP_HOST, SMTP_USER, SMTP_PASS, REDIS_ADDR)
//  2. an optional YAML file (--config)
//  3. flags given explicitly on the command line
//
// Keys are dotted paths ("tokens.session_ttl"); the same names are used as
// flag names and YAML keys.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/sakif/plausch/internal/auth"
	"github.com/sakif/plausch/internal/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Tokens   TokensConfig   `koanf:"tokens"`
	Mail     MailConfig     `koanf:"mail"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port           int      `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"` // sqlite file
	DSN    string `koanf:"dsn"`  // postgres connection string
}

// RedisConfig enables the Redis id allocator when Addr is set.
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

type TokensConfig struct {
	Secret          string        `koanf:"secret"`
	Issuer          string        `koanf:"issuer"`
	ConfirmationTTL time.Duration `koanf:"confirmation_ttl"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
}

// MailConfig selects the SMTP relay. With no Host, mail is logged instead
// of sent.
type MailConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	From       string        `koanf:"from"`
	ConfirmURL string        `koanf:"confirm_url"`
	Workers    int           `koanf:"workers"`
	QueueSize  int           `koanf:"queue_size"`
	Timeout    time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// RegisterFlags defines one flag per key on fs. Defaults come from the
// environment where a variable exists.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")

	fs.Int("server.port", envInt("PORT", 5005), "HTTP listen port")
	fs.StringSlice("server.allowed_origins", []string{"http://localhost:4200"}, "CORS origins allowed to call the API")

	fs.String("database.driver", envString("DB_DRIVER", DriverSQLite), "credential store: sqlite or postgres")
	fs.String("database.path", envString("DB_PATH", "plausch.db"), "SQLite database file")
	fs.String("database.dsn", envString("DATABASE_URL", ""), "PostgreSQL connection string")

	fs.String("redis.addr", envString("REDIS_ADDR", ""), "Redis address for account id allocation (optional)")

	fs.String("tokens.secret", envString("JWT_SECRET", ""), "HS256 signing secret")
	fs.String("tokens.issuer", auth.DefaultIssuer, "JWT issuer")
	fs.Duration("tokens.confirmation_ttl", auth.DefaultConfirmationTTL, "confirmation link lifetime (1h to 24h)")
	fs.Duration("tokens.session_ttl", auth.DefaultSessionTTL, "session token lifetime")

	fs.String("mail.host", envString("SMTP_HOST", ""), "SMTP relay host; empty logs mail instead")
	fs.Int("mail.port", envInt("SMTP_PORT", 587), "SMTP relay port (STARTTLS)")
	fs.String("mail.username", envString("SMTP_USER", os.Getenv("BREVO_USER")), "SMTP username")
	fs.String("mail.password", envString("SMTP_PASS", os.Getenv("BREVO_PASS")), "SMTP password")
	fs.String("mail.from", `"Plausch-noreply" <noreply@plausch.live>`, "sender address")
	fs.String("mail.confirm_url", envString("CONFIRM_URL", "http://localhost:4200/confirm-email"), "frontend page confirmation links point to")
	fs.Int("mail.workers", 4, "concurrent mail deliveries")
	fs.Int("mail.queue_size", 64, "mails waiting for a free worker")
	fs.Duration("mail.timeout", 20*time.Second, "timeout for a single delivery")

	fs.String("log.format", envString("LOG_FORMAT", "json"), "log format: json or text")
	fs.String("log.level", envString("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
}

// Load merges defaults, the optional YAML file and explicit flags. fs must
// have been set up with RegisterFlags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, err := fs.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	// Passing k makes posflag fill in unchanged flags only where the file
	// did not set the key, while changed flags always win.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("config: loading flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite, postgres", c.Database.Driver))
	}

	if len(c.Tokens.Secret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("tokens.secret must be at least %d characters (set JWT_SECRET)", auth.MinSecretLength))
	}
	if c.Tokens.ConfirmationTTL < auth.MinConfirmationTTL || c.Tokens.ConfirmationTTL > auth.MaxConfirmationTTL {
		errs = append(errs, fmt.Errorf("tokens.confirmation_ttl %s must be between %s and %s",
			c.Tokens.ConfirmationTTL, auth.MinConfirmationTTL, auth.MaxConfirmationTTL))
	}
	if c.Tokens.SessionTTL <= 0 {
		errs = append(errs, errors.New("tokens.session_ttl must be positive"))
	}

	if c.Mail.ConfirmURL == "" {
		errs = append(errs, errors.New("mail.confirm_url is required"))
	}
	if c.Mail.Host != "" && c.Mail.From == "" {
		errs = append(errs, errors.New("mail.from is required when mail.host is set"))
	}
	if c.Mail.Workers <= 0 {
		errs = append(errs, errors.New("mail.workers must be positive"))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
