package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	Google struct {
		ClientID     string
		ClientSecret string
		RedirectPath string
	}

	Sync struct {
		Interval         time.Duration
		WindowPastDays   int
		WindowFutureDays int
		Workers          int
		StaleAfter       time.Duration
		AutoStart        bool
	}

	TokenSecret string

	PrometheusEnabled bool
	TrustedProxies    []string
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectPath = getenvDefault("APP_GOOGLE_REDIRECT_PATH", "/api/calendar/callback")

	var err error
	if cfg.Sync.Interval, err = getenvDuration("APP_SYNC_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Sync.StaleAfter, err = getenvDuration("APP_SYNC_STALE_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Sync.WindowPastDays, err = getenvInt("APP_SYNC_WINDOW_PAST_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.Sync.WindowFutureDays, err = getenvInt("APP_SYNC_WINDOW_FUTURE_DAYS", 365); err != nil {
		return nil, err
	}
	if cfg.Sync.Workers, err = getenvInt("APP_SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	cfg.Sync.AutoStart = getenvBool("APP_AUTOSYNC_ENABLED", true)

	cfg.TokenSecret = os.Getenv("APP_TOKEN_SECRET")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, errors.New("google oauth configuration is required: APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET")
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("APP_TOKEN_SECRET is required")
	}
	if len(cfg.TokenSecret) < 32 {
		return nil, fmt.Errorf("APP_TOKEN_SECRET must be at least 32 characters long (got %d)", len(cfg.TokenSecret))
	}
	if cfg.Sync.Interval < time.Minute {
		return nil, fmt.Errorf("APP_SYNC_INTERVAL must be at least 1m (got %s)", cfg.Sync.Interval)
	}
	if cfg.Sync.Workers < 1 {
		return nil, errors.New("APP_SYNC_WORKERS must be at least 1")
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. CalSync will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

// RedirectURL is the absolute OAuth redirect URL registered with Google.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Google.RedirectPath
}

// WebhookURL is the absolute address Google delivers push notifications to.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/webhooks/google"
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 10m): %w", key, err)
	}
	return d, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
