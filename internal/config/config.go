// Package config loads service settings from environment variables.
// Upstream feed connectors are individually optional: an unset feed URL
// disables that connector rather than failing startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Primary websocket feed.
	PrimaryFeedURL    string
	PrimaryRetryDelay time.Duration

	// Regional push feeds (leader-gated websockets).
	RegionalJMAURL         string
	RegionalSCURL          string
	RegionalFJURL          string
	RegionalBackoffFloor   time.Duration
	RegionalBackoffCeiling time.Duration

	// Regional JSON poll feed.
	RegionalPollURL      string
	RegionalPollInterval time.Duration

	// Binary telemetry snapshots.
	TelemetryCoordURL     string
	TelemetryIntensityURL string
	TelemetryInterval     time.Duration
	TelemetryTimeout      time.Duration
	TelemetryCooldown     time.Duration

	// Scraped bulletin table.
	ScrapeURL      string
	ScrapeInterval time.Duration

	// One-time history seed.
	HistoryURL string

	// Leader lease store. Empty RedisAddr disables leader election and the
	// regional push connectors run ungated.
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	LeaderKey        string
	LeaderStaleAfter time.Duration
	LeaderHeartbeat  time.Duration

	// Optional change sink.
	KafkaBrokers   []string
	KafkaSinkTopic string

	MailboxSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		PrimaryFeedURL: os.Getenv("PRIMARY_FEED_URL"),

		RegionalJMAURL: os.Getenv("REGIONAL_JMA_URL"),
		RegionalSCURL:  os.Getenv("REGIONAL_SC_URL"),
		RegionalFJURL:  os.Getenv("REGIONAL_FJ_URL"),

		RegionalPollURL: os.Getenv("REGIONAL_POLL_URL"),

		TelemetryCoordURL:     os.Getenv("TELEMETRY_COORD_URL"),
		TelemetryIntensityURL: os.Getenv("TELEMETRY_INTENSITY_URL"),

		ScrapeURL:  os.Getenv("SCRAPE_URL"),
		HistoryURL: os.Getenv("HISTORY_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LeaderKey:     envOrDefault("LEADER_KEY", "feed-hub:leader"),

		KafkaSinkTopic: os.Getenv("KAFKA_SINK_TOPIC"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PrimaryRetryDelay, err = durationOrDefault("PRIMARY_RETRY_DELAY", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.RegionalBackoffFloor, err = durationOrDefault("REGIONAL_BACKOFF_FLOOR", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RegionalBackoffCeiling, err = durationOrDefault("REGIONAL_BACKOFF_CEILING", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RegionalPollInterval, err = durationOrDefault("REGIONAL_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TelemetryInterval, err = durationOrDefault("TELEMETRY_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.TelemetryTimeout, err = durationOrDefault("TELEMETRY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.TelemetryCooldown, err = durationOrDefault("TELEMETRY_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScrapeInterval, err = durationOrDefault("SCRAPE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LeaderStaleAfter, err = durationOrDefault("LEADER_STALE_AFTER", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.LeaderHeartbeat, err = durationOrDefault("LEADER_HEARTBEAT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = intOrDefault("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.MailboxSize, err = intOrDefault("MAILBOX_SIZE", 256); err != nil {
		return nil, err
	}

	if cfg.PrimaryFeedURL == "" {
		return nil, fmt.Errorf("PRIMARY_FEED_URL is required")
	}
	if cfg.RegionalBackoffFloor > cfg.RegionalBackoffCeiling {
		return nil, fmt.Errorf("REGIONAL_BACKOFF_FLOOR must not exceed REGIONAL_BACKOFF_CEILING")
	}
	if (cfg.TelemetryCoordURL == "") != (cfg.TelemetryIntensityURL == "") {
		return nil, fmt.Errorf("TELEMETRY_COORD_URL and TELEMETRY_INTENSITY_URL must be set together")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSinkTopic == "" {
		return nil, fmt.Errorf("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.MailboxSize <= 0 {
		return nil, fmt.Errorf("MAILBOX_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func intOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
