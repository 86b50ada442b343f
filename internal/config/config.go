// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("SESSION_SECRET is required")

type Config struct {
	ListenAddr    string
	APIBaseURL    string
	PublicBaseURL string
	SessionDBPath string
	SessionSecret string
	DatabaseURL   string
	LogLevel      string
	// AllowedOrigins are the browser origin hosts (path.Match patterns)
	// allowed to open the draft WebSocket.
	AllowedOrigins []string
}

// Load reads .env files (missing files are fine) and then the environment.
// Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests need not touch the
// process environment.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		ListenAddr:    get("LISTEN_ADDR", ":8080"),
		APIBaseURL:    strings.TrimRight(get("API_BASE_URL", "http://localhost:3000"), "/"),
		SessionDBPath: get("SESSION_DB_PATH", "sessions.db"),
		SessionSecret: get("SESSION_SECRET", ""),
		DatabaseURL:   get("DATABASE_URL", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
	}
	cfg.PublicBaseURL = strings.TrimRight(get("PUBLIC_BASE_URL", cfg.APIBaseURL), "/")

	if cfg.SessionSecret == "" {
		return Config{}, ErrMissingSecret
	}
	for key, raw := range map[string]string{"API_BASE_URL": cfg.APIBaseURL, "PUBLIC_BASE_URL": cfg.PublicBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("%s: invalid url %q", key, raw)
		}
	}

	for _, o := range strings.Split(getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		u, _ := url.Parse(cfg.PublicBaseURL)
		cfg.AllowedOrigins = []string{u.Host}
	}
	return cfg, nil
}
