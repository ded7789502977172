// Package config loads the client configuration from the environment.
//
// A .env file in the working directory (or the path in FRAMEZ_ENV_FILE) is
// read first; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is everything the framez client needs to run.
type Config struct {
	SupabaseURL     string `env:"FRAMEZ_SUPABASE_URL,required"`
	SupabaseAnonKey string `env:"FRAMEZ_SUPABASE_ANON_KEY,required"`

	RedirectURL   string `env:"FRAMEZ_REDIRECT_URL" envDefault:"http://127.0.0.1:53682/auth/callback"`
	OAuthProvider string `env:"FRAMEZ_OAUTH_PROVIDER" envDefault:"google"`
	StorageBucket string `env:"FRAMEZ_STORAGE_BUCKET" envDefault:"post-images"`

	// CachePath is the sqlite credential cache. Empty means the user cache
	// directory (see DefaultCachePath).
	CachePath string `env:"FRAMEZ_CACHE_PATH"`

	LogLevel  string `env:"FRAMEZ_LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"FRAMEZ_LOG_FORMAT" envDefault:"text"`

	RequestsPerSecond float64       `env:"FRAMEZ_REQUESTS_PER_SECOND" envDefault:"10"`
	RefreshTick       time.Duration `env:"FRAMEZ_REFRESH_TICK" envDefault:"30s"`
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	envFile := os.Getenv("FRAMEZ_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading %s: %w", envFile, err)
	}
	return Parse()
}

// Parse reads the configuration from environment variables only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.CachePath == "" {
		path, err := DefaultCachePath()
		if err != nil {
			return Config{}, err
		}
		cfg.CachePath = path
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values env tags cannot.
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.SupabaseURL); err != nil {
		return fmt.Errorf("config: FRAMEZ_SUPABASE_URL: %w", err)
	}
	redirect, err := url.Parse(c.RedirectURL)
	if err != nil {
		return fmt.Errorf("config: FRAMEZ_REDIRECT_URL: %w", err)
	}
	if redirect.Scheme != "http" || redirect.Host == "" {
		return fmt.Errorf("config: FRAMEZ_REDIRECT_URL must be an http loopback URL, got %q", c.RedirectURL)
	}
	if c.RefreshTick <= 0 {
		return fmt.Errorf("config: FRAMEZ_REFRESH_TICK must be positive, got %s", c.RefreshTick)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("config: FRAMEZ_REQUESTS_PER_SECOND must not be negative, got %g", c.RequestsPerSecond)
	}
	return nil
}

// DefaultCachePath is framez/session.db under the user cache directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("config: locating cache directory: %w", err)
	}
	return filepath.Join(dir, "framez", "session.db"), nil
}
