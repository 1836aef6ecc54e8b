// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shehryarbajwa/detox/internal/browser"
	"github.com/shehryarbajwa/detox/internal/content"
	"github.com/shehryarbajwa/detox/internal/events"
)

// Engine selects where browsers run
type Engine string

const (
	EngineLocal  Engine = "local"
	EngineDocker Engine = "docker"
)

// Config holds every setting the server reads at startup
type Config struct {
	Port string

	Engine       Engine
	ChromePath   string
	Headless     bool
	UserAgent    string
	BrowserImage string

	YouTubeAPIKey    string
	YouTubeAPIURL    string
	YouTubeSearchURL string
	MaxResults       int

	NATSURL     string
	NATSSubject string

	RateLimitPerHour int
	RateLimitBurst   int
	// TrustProxy keys rate limits on X-Forwarded-For / X-Real-IP. Only set it
	// behind a reverse proxy that overwrites those headers.
	TrustProxy bool
}

// Load reads the environment, applying defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Engine:           Engine(strings.ToLower(getEnv("ENGINE", string(EngineLocal)))),
		ChromePath:       os.Getenv("CHROME_PATH"),
		UserAgent:        getEnv("USER_AGENT", browser.DefaultUserAgent),
		BrowserImage:     getEnv("BROWSER_IMAGE", browser.DefaultImage),
		YouTubeAPIKey:    os.Getenv("YOUTUBE_API_KEY"),
		YouTubeAPIURL:    getEnv("YOUTUBE_API_URL", content.DefaultAPIURL),
		YouTubeSearchURL: getEnv("YOUTUBE_SEARCH_URL", content.DefaultSearchURL),
		NATSURL:          os.Getenv("NATS_URL"),
		NATSSubject:      getEnv("NATS_SUBJECT", events.DefaultSubject),
	}

	var err error
	if cfg.Headless, err = getBool("HEADLESS", false); err != nil {
		return nil, err
	}
	if cfg.TrustProxy, err = getBool("TRUST_PROXY", false); err != nil {
		return nil, err
	}
	if cfg.MaxResults, err = getInt("MAX_RESULTS", content.DefaultMaxResults); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerHour, err = getInt("RATE_LIMIT_PER_HOUR", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}

	if cfg.Engine != EngineLocal && cfg.Engine != EngineDocker {
		return nil, fmt.Errorf("ENGINE must be %q or %q, got %q", EngineLocal, EngineDocker, cfg.Engine)
	}
	if cfg.MaxResults <= 0 {
		return nil, fmt.Errorf("MAX_RESULTS must be positive, got %d", cfg.MaxResults)
	}

	return cfg, nil
}

// BrowserOptions returns the launch options for the configured engine.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		ExecPath:  c.ChromePath,
		Headless:  c.Headless,
		UserAgent: c.UserAgent,
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
