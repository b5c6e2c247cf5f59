package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"report-embed/lifecycle"
	"report-embed/security"
)

const (
	defaultPort         = "8080"
	defaultRedisURL     = "redis://localhost:6379"
	defaultEndpoint     = "http://localhost:5300/getembedinfo"
	defaultFetchTimeout = 30 * time.Second
	defaultFetchRPS     = 5.0
	defaultSessionTTL   = 2 * time.Hour
	defaultReapInterval = 5 * time.Minute
)

// Config holds everything main needs to wire the service.
type Config struct {
	Port         string
	RedisURL     string
	Endpoint     string
	TokenType    lifecycle.TokenType
	Settings     *lifecycle.Settings
	FetchTimeout time.Duration
	FetchRPS     float64
	SessionTTL   time.Duration
	ReapInterval time.Duration
	Backend      security.BackendAuth
}

// ConfigFromEnv builds a Config from environment variables with safe defaults.
func ConfigFromEnv() (Config, error) {
	tokenType, err := lifecycle.ParseTokenType(os.Getenv("EMBED_TOKEN_TYPE"))
	if err != nil {
		return Config{}, fmt.Errorf("EMBED_TOKEN_TYPE: %w", err)
	}

	settings, err := lifecycle.LoadSettings(strings.TrimSpace(os.Getenv("EMBED_SETTINGS_FILE")))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:         pickEnv("PORT", defaultPort),
		RedisURL:     pickEnv("REDIS_URL", defaultRedisURL),
		Endpoint:     pickEnv("EMBED_CONFIG_ENDPOINT", defaultEndpoint),
		TokenType:    tokenType,
		Settings:     settings,
		FetchTimeout: parseDurationOrDefault(os.Getenv("EMBED_FETCH_TIMEOUT"), defaultFetchTimeout),
		FetchRPS:     parseFloatOrDefault(os.Getenv("EMBED_FETCH_RPS"), defaultFetchRPS),
		SessionTTL:   parseDurationOrDefault(os.Getenv("SESSION_TTL"), defaultSessionTTL),
		ReapInterval: parseDurationOrDefault(os.Getenv("SESSION_REAP_INTERVAL"), defaultReapInterval),
		Backend: security.BackendAuth{
			TokenURL:     strings.TrimSpace(os.Getenv("BACKEND_TOKEN_URL")),
			ClientID:     strings.TrimSpace(os.Getenv("BACKEND_CLIENT_ID")),
			ClientSecret: os.Getenv("BACKEND_CLIENT_SECRET"),
			Scopes:       parseList(os.Getenv("BACKEND_SCOPES")),
		},
	}, nil
}

// Template is the base EmbedConfig every new session starts from.
func (c Config) Template() lifecycle.EmbedConfig {
	return lifecycle.Template(c.TokenType, c.Settings)
}

func pickEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func parseFloatOrDefault(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	seen := make(map[string]struct{})
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
