package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the built-in configuration. Secrets are left empty on
// purpose; they must come from the file or the environment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			FrontendURL:     "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/bioqr.db",
		},
		Auth: AuthConfig{
			AccessTTL:           15 * time.Minute,
			RefreshTTL:          7 * 24 * time.Hour,
			BcryptCost:          12,
			RevealLoginFailures: true,
		},
		OAuth: OAuthConfig{
			Timeout: 10 * time.Second,
			Google:  OAuthApp{CallbackURL: "http://localhost:8080/auth/google/callback"},
			GitHub:  OAuthApp{CallbackURL: "http://localhost:8080/auth/github/callback"},
		},
		Storage: StorageConfig{
			Type:    "local",
			Timeout: 30 * time.Second,
			Local:   LocalStorage{Root: "uploads"},
			S3:      S3Storage{Region: "us-east-1"},
		},
		Upload: UploadConfig{MaxBytes: 10 << 20},
		QR: QRConfig{
			DefaultMinutes: 60,
			MaxMinutes:     0,
			ImageSize:      256,
		},
		Sweep:     SweepConfig{Interval: time.Hour},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 20},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Rotation: LogRotationConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.frontend_url", d.Server.FrontendURL)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.refresh_secret", d.Auth.RefreshSecret)
	v.SetDefault("auth.access_ttl", d.Auth.AccessTTL)
	v.SetDefault("auth.refresh_ttl", d.Auth.RefreshTTL)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.reveal_login_failures", d.Auth.RevealLoginFailures)

	v.SetDefault("oauth.timeout", d.OAuth.Timeout)
	for name, app := range map[string]OAuthApp{"google": d.OAuth.Google, "github": d.OAuth.GitHub} {
		v.SetDefault("oauth."+name+".client_id", app.ClientID)
		v.SetDefault("oauth."+name+".client_secret", app.ClientSecret)
		v.SetDefault("oauth."+name+".callback_url", app.CallbackURL)
	}

	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.timeout", d.Storage.Timeout)
	v.SetDefault("storage.local.root", d.Storage.Local.Root)
	v.SetDefault("storage.s3.bucket", d.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("storage.s3.endpoint", d.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.access_key", d.Storage.S3.AccessKey)
	v.SetDefault("storage.s3.secret_key", d.Storage.S3.SecretKey)
	v.SetDefault("storage.s3.path_style", d.Storage.S3.PathStyle)

	v.SetDefault("upload.max_bytes", d.Upload.MaxBytes)

	v.SetDefault("qr.default_minutes", d.QR.DefaultMinutes)
	v.SetDefault("qr.max_minutes", d.QR.MaxMinutes)
	v.SetDefault("qr.image_size", d.QR.ImageSize)

	v.SetDefault("sweep.interval", d.Sweep.Interval)

	v.SetDefault("ratelimit.rps", d.RateLimit.RPS)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.rotation.max_size_mb", d.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", d.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}
