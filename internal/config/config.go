// Package config loads application configuration from a YAML file and
// NOTIFY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// NOTIFY_DATABASE__URL maps to database.url.
const EnvPrefix = "NOTIFY_"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Auth          AuthConfig          `koanf:"auth"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	SQLitePath      string        `koanf:"sqlite_path"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig holds caller authentication settings.
type AuthConfig struct {
	JWTSecret string         `koanf:"jwt_secret"`
	JWTIssuer string         `koanf:"jwt_issuer"`
	APIKeys   []APIKeyConfig `koanf:"api_keys"`
}

// APIKeyConfig is a named static key stored as a bcrypt hash.
type APIKeyConfig struct {
	Name string `koanf:"name"`
	Hash string `koanf:"hash"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig holds dispatch engine and transport settings.
type NotificationsConfig struct {
	Telegram         TelegramConfig `koanf:"telegram"`
	Email            EmailConfig    `koanf:"email"`
	Retry            RetryConfig    `koanf:"retry"`
	ThrottleInterval time.Duration  `koanf:"throttle_interval"`
	DefaultLocale    string         `koanf:"default_locale"`
	HTMLEncodeValues bool           `koanf:"html_encode_values"`
}

// TelegramConfig holds chat transport settings.
type TelegramConfig struct {
	Enabled          bool    `koanf:"enabled"`
	BotToken         string  `koanf:"bot_token"`
	APIURL           string  `koanf:"api_url"`
	RateLimit        float64 `koanf:"rate_limit"`
	ParseMode        string  `koanf:"parse_mode"`
	MaxMessageLength int     `koanf:"max_message_length"`
}

// EmailConfig holds mail transport settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// RetryConfig holds delivery retry settings.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
}

// Load reads configuration from the optional YAML file at path, then
// overlays environment variables, then applies defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == "cors.allowed_origins" {
			return key, strings.Split(value, ",")
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 55 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/notify-relay.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 30 * time.Second
	}
	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = 5
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Auth.JWTIssuer == "" {
		c.Auth.JWTIssuer = "notify-relay"
	}

	n := &c.Notifications
	if n.Telegram.ParseMode == "" {
		n.Telegram.ParseMode = "HTML"
	}
	if n.Telegram.MaxMessageLength == 0 {
		n.Telegram.MaxMessageLength = 4096
	}
	if n.Retry.MaxAttempts == 0 {
		n.Retry.MaxAttempts = 3
	}
	if n.Retry.BaseDelay == 0 {
		n.Retry.BaseDelay = 500 * time.Millisecond
	}
	if n.ThrottleInterval == 0 {
		n.ThrottleInterval = 100 * time.Millisecond
	}
	if n.DefaultLocale == "" {
		n.DefaultLocale = "en"
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required when database.driver=postgres"))
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth: jwt_secret or at least one api key is required"))
	}
	for i, key := range c.Auth.APIKeys {
		if key.Name == "" || key.Hash == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: name and hash are required", i))
		}
	}

	if c.Notifications.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("notifications.retry.max_attempts must be at least 1"))
	}

	return errors.Join(errs...)
}
