// Package config loads the runtime's external-facing knobs: scheduling,
// HTTP, rate/health, caching, proxy, and filter parameters, plus
// persistence DSNs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every operator-tunable knob the core honours.
type Config struct {
	// Scheduling
	MaxParallelCategoryScans     int
	MaxParallelPagesPerCategory  int
	AmazonMaxParallelPages       int
	MinPageDelay                 time.Duration
	MaxPageDelay                 time.Duration
	DBBatchUpdateSize            int
	SchedulerInterval            time.Duration
	DisableOn404                 bool

	// HTTP
	ConnectionTimeout      time.Duration
	CategoryRequestTimeout time.Duration
	HTTPMaxConnections     int
	ConnectionKeepAlive    time.Duration
	ConnectionPoolWarmup   bool
	MaxAttempts            int

	// Rate / health
	AdaptiveRateLimitingEnabled bool
	AdaptiveBaseDelay           time.Duration
	AdaptiveMaxDelay            time.Duration
	AdaptiveErrorRateThreshold  float64
	AdaptiveHighLatencyMS       int64
	Adaptive429Cooldown         time.Duration

	// Caching / delta
	HTTPCacheEnabled    bool
	HTTPCacheTTL        time.Duration
	DeltaDetectionOn    bool
	DeltaCacheTTL       time.Duration

	// Proxies
	ProxyCooldown         time.Duration
	ProxyMaxConsecutive403 int

	// Filters
	GlobalMinPrice         float64
	GlobalMinDiscount      float64
	KidsLowPriceMax        float64
	KidsExcludeKeywords    []string

	// Cross-source dedupe
	AggregatorStores []string
	CrossSourceTTL   time.Duration

	// Alert pipeline
	DedupeTTL     time.Duration
	CooldownTTL   time.Duration

	// Alert delivery
	AlertDiscordWebhook string
	AlertTelegramToken  string
	AlertTelegramChatID string

	// Persistence
	DatabasePath string
	RedisURL     string

	// Ambient
	LogLevel   string
	BundleRoot string
	HTTPPort   int
}

// Default returns the baseline configuration used when no environment
// override is present.
func Default() *Config {
	return &Config{
		MaxParallelCategoryScans:    8,
		MaxParallelPagesPerCategory: 4,
		AmazonMaxParallelPages:      2,
		MinPageDelay:                1 * time.Second,
		MaxPageDelay:                3 * time.Second,
		DBBatchUpdateSize:           25,
		SchedulerInterval:           5 * time.Minute,
		DisableOn404:                true,

		ConnectionTimeout:      10 * time.Second,
		CategoryRequestTimeout: 30 * time.Second,
		HTTPMaxConnections:     100,
		ConnectionKeepAlive:    120 * time.Second,
		ConnectionPoolWarmup:   true,
		MaxAttempts:            3,

		AdaptiveRateLimitingEnabled: true,
		AdaptiveBaseDelay:           2 * time.Second,
		AdaptiveMaxDelay:            5 * time.Minute,
		AdaptiveErrorRateThreshold:  0.3,
		AdaptiveHighLatencyMS:       4000,
		Adaptive429Cooldown:         60 * time.Second,

		HTTPCacheEnabled: true,
		HTTPCacheTTL:     15 * time.Minute,
		DeltaDetectionOn: true,
		DeltaCacheTTL:    24 * time.Hour,

		ProxyCooldown:          15 * time.Minute,
		ProxyMaxConsecutive403: 5,

		GlobalMinPrice:      1.0,
		GlobalMinDiscount:   20.0,
		KidsLowPriceMax:     15.0,
		KidsExcludeKeywords: []string{"kids", "toddler", "infant", "baby"},

		AggregatorStores: []string{"saveyourdeals", "slickdeals", "woot"},
		CrossSourceTTL:   10 * time.Minute,

		DedupeTTL:   12 * time.Hour,
		CooldownTTL: 60 * time.Minute,

		DatabasePath: "pricewatch.db",
		RedisURL:     "redis://127.0.0.1:6379/0",

		LogLevel:   "info",
		BundleRoot: "debug_bundles",
		HTTPPort:   9090,
	}
}

// Load reads a .env file (if present) and applies OS-environment overrides
// on top of Default(). Existing OS env vars always win over .env contents,
// matching godotenv's own semantics.
func Load() *Config {
	_ = godotenv.Load()

	c := Default()
	c.DatabasePath = envOrDefault("DATABASE_PATH", c.DatabasePath)
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.BundleRoot = envOrDefault("BUNDLE_ROOT", c.BundleRoot)
	c.MaxParallelCategoryScans = envOrDefaultInt("MAX_PARALLEL_CATEGORY_SCANS", c.MaxParallelCategoryScans)
	c.MaxParallelPagesPerCategory = envOrDefaultInt("MAX_PARALLEL_PAGES_PER_CATEGORY", c.MaxParallelPagesPerCategory)
	c.AmazonMaxParallelPages = envOrDefaultInt("AMAZON_MAX_PARALLEL_PAGES", c.AmazonMaxParallelPages)
	c.DBBatchUpdateSize = envOrDefaultInt("DB_BATCH_UPDATE_SIZE", c.DBBatchUpdateSize)
	c.SchedulerInterval = envOrDefaultDuration("SCHEDULER_INTERVAL_MINUTES_AS_DURATION", c.SchedulerInterval)
	c.ProxyMaxConsecutive403 = envOrDefaultInt("PROXY_MAX_CONSECUTIVE_403S", c.ProxyMaxConsecutive403)
	c.AdaptiveRateLimitingEnabled = envOrDefaultBool("ADAPTIVE_RATE_LIMITING_ENABLED", c.AdaptiveRateLimitingEnabled)
	c.HTTPCacheEnabled = envOrDefaultBool("HTTP_CACHE_ENABLED", c.HTTPCacheEnabled)
	c.DeltaDetectionOn = envOrDefaultBool("DELTA_DETECTION_ENABLED", c.DeltaDetectionOn)
	c.HTTPPort = envOrDefaultInt("HTTP_PORT", c.HTTPPort)
	c.AlertDiscordWebhook = envOrDefault("ALERT_DISCORD_WEBHOOK", c.AlertDiscordWebhook)
	c.AlertTelegramToken = envOrDefault("ALERT_TELEGRAM_TOKEN", c.AlertTelegramToken)
	c.AlertTelegramChatID = envOrDefault("ALERT_TELEGRAM_CHAT_ID", c.AlertTelegramChatID)
	return c
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
