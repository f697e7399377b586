package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin  string        `envconfig:"ALLOWED_ORIGIN" default:"http://localhost:5173"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"text"`

	// TrustProxyHeaders enables client IP detection from X-Forwarded-For and X-Real-IP.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"cement"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	SettingsCacheTTL time.Duration `envconfig:"SETTINGS_CACHE_TTL" default:"5m"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	CookieSecure   bool          `envconfig:"COOKIE_SECURE" default:"false"`
	LoginAttempts  int           `envconfig:"LOGIN_ATTEMPTS_PER_MINUTE" default:"5"`

	BootstrapAdminUsername string `envconfig:"BOOTSTRAP_ADMIN_USERNAME" default:"admin"`
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// Load reads the environment, after an optional .env file in the working
// directory. Real environment variables win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.SettingsCacheTTL <= 0 {
		cfg.SettingsCacheTTL = 5 * time.Minute
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Backend names the order store selected by the configured URLs.
func (c Config) Backend() string {
	switch {
	case strings.TrimSpace(c.MongoURI) != "":
		return "mongo"
	case strings.TrimSpace(c.DatabaseURL) != "":
		return "postgres"
	default:
		return "memory"
	}
}

// NewLogger builds a JSON logger for LOG_FORMAT=json and a text one otherwise.
func NewLogger(format string, w io.Writer) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}
