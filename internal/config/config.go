// Package config loads server configuration from defaults, an optional YAML
// file and BIOQR_* environment variables, in increasing order of priority.
//
// Key "auth.jwt_secret" is read from BIOQR_AUTH_JWT_SECRET, "storage.s3.bucket"
// from BIOQR_STORAGE_S3_BUCKET, and so on.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BIOQR"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database"  yaml:"database"`
	Auth      AuthConfig      `mapstructure:"auth"      yaml:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"     yaml:"oauth"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"    yaml:"upload"`
	QR        QRConfig        `mapstructure:"qr"        yaml:"qr"`
	Sweep     SweepConfig     `mapstructure:"sweep"     yaml:"sweep"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
	// BaseURL is the public origin QR links point at.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// FrontendURL is where OAuth callbacks send the browser afterwards.
	FrontendURL     string        `mapstructure:"frontend_url"     yaml:"frontend_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"    yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     yaml:"jwt_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret" yaml:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"     yaml:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"    yaml:"refresh_ttl"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"    yaml:"bcrypt_cost"`
	// RevealLoginFailures keeps "no such account" and "wrong password"
	// apart in HTTP responses. Turn off to answer both with one message.
	RevealLoginFailures bool `mapstructure:"reveal_login_failures" yaml:"reveal_login_failures"`
}

type OAuthConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Google  OAuthApp      `mapstructure:"google"  yaml:"google"`
	GitHub  OAuthApp      `mapstructure:"github"  yaml:"github"`
}

type OAuthApp struct {
	ClientID     string `mapstructure:"client_id"     yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"  yaml:"callback_url"`
}

type StorageConfig struct {
	Type    string        `mapstructure:"type"    yaml:"type"` // local | s3
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Local   LocalStorage  `mapstructure:"local"   yaml:"local"`
	S3      S3Storage     `mapstructure:"s3"      yaml:"s3"`
}

type LocalStorage struct {
	Root string `mapstructure:"root" yaml:"root"`
}

type S3Storage struct {
	Bucket    string `mapstructure:"bucket"     yaml:"bucket"`
	Region    string `mapstructure:"region"     yaml:"region"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type QRConfig struct {
	DefaultMinutes int `mapstructure:"default_minutes" yaml:"default_minutes"`
	// MaxMinutes caps requested lifetimes; 0 leaves them unbounded.
	MaxMinutes int `mapstructure:"max_minutes" yaml:"max_minutes"`
	ImageSize  int `mapstructure:"image_size"  yaml:"image_size"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"   yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level    string            `mapstructure:"level"    yaml:"level"`
	Format   string            `mapstructure:"format"   yaml:"format"` // text | json
	File     string            `mapstructure:"file"     yaml:"file"`
	Rotation LogRotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress"     yaml:"compress"`
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads configuration into a fresh viper instance. path may be empty,
// in which case ./config.yaml and /etc/bioqr/config.yaml are tried and a
// missing file is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper, so CLI flags bound to v take
// part in the precedence chain.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bioqr")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. All problems are reported at
// once rather than one per run.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		add("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		add("database.dsn is required")
	}

	if len(c.Auth.JWTSecret) < 16 {
		add("auth.jwt_secret must be at least 16 characters")
	}
	if len(c.Auth.RefreshSecret) < 16 {
		add("auth.refresh_secret must be at least 16 characters")
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWTSecret == c.Auth.RefreshSecret {
		add("auth.jwt_secret and auth.refresh_secret must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		add("auth.access_ttl and auth.refresh_ttl must be positive")
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		add("auth.bcrypt_cost must be between 10 and 31, got %d", c.Auth.BcryptCost)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Local.Root == "" {
			add("storage.local.root is required for local storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			add("storage.s3.bucket is required for s3 storage")
		}
	default:
		add("storage.type must be local or s3, got %q", c.Storage.Type)
	}
	if c.Storage.Timeout <= 0 || c.OAuth.Timeout <= 0 {
		add("storage.timeout and oauth.timeout must be positive")
	}

	if c.Upload.MaxBytes <= 0 {
		add("upload.max_bytes must be positive")
	}
	if c.QR.DefaultMinutes <= 0 {
		add("qr.default_minutes must be positive")
	}
	if c.QR.MaxMinutes < 0 || (c.QR.MaxMinutes > 0 && c.QR.DefaultMinutes > c.QR.MaxMinutes) {
		add("qr.max_minutes must be 0 (no cap) or at least qr.default_minutes")
	}
	if c.Sweep.Interval <= 0 {
		add("sweep.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
