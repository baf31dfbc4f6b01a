// Package config loads the single process configuration from the
// environment. Unknown variables are ignored; missing required values
// fail fast at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is shared by every service; each main reads the subset it
// needs. All values come from the environment, optionally seeded from a
// .env file by the caller.
type Config struct {
	DatabaseURL    string
	BrokerURL      string
	CacheURL       string
	VectorStoreURL string
	VectorAPIKey   string
	VectorColl     string

	ListenAddr string
	LogLevel   slog.Level

	// Threat-intel sources. An empty key disables the source and its
	// weight is renormalized over the rest.
	VirusTotalKey string
	OTXKey        string
	AbuseChKey    string

	// Enrichment providers. An empty URL swaps in the static stub so
	// the collector still runs in isolated environments.
	GeoIPURL     string
	CMDBURL      string
	CMDBKey      string
	DirectoryURL string
	DirectoryKey string

	// LLM endpoints.
	RouterURL        string
	LLMEndpoint      string // direct provider fallback when the router is down
	LLMAPIKey        string
	LLMModel         string
	EmbedEndpoint    string
	EmbedAPIKey      string
	SimilaritySvcURL string

	// Pipeline tuning.
	DedupWindow       time.Duration
	EnrichmentTTL     time.Duration
	ThreatIntelTTL    time.Duration
	EnrichTimeout     time.Duration
	IntelDeadline     time.Duration
	LLMTimeout        time.Duration
	SimSearchTimeout  time.Duration
	StageSLA          time.Duration
	ShutdownGrace     time.Duration
	Prefetch          int
	WorkerConcurrency int
	RateLimitPerMin   int
	InternalCIDRs     []string
}

// Load reads the environment into a Config and validates the values
// every service requires.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		BrokerURL:      os.Getenv("BROKER_URL"),
		CacheURL:       getEnv("CACHE_URL", "redis://localhost:6379"),
		VectorStoreURL: os.Getenv("VECTOR_STORE_URL"),
		VectorAPIKey:   os.Getenv("VECTOR_STORE_API_KEY"),
		VectorColl:     getEnv("VECTOR_STORE_COLLECTION", "alerts"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:   parseLogLevel(os.Getenv("LOG_LEVEL")),

		VirusTotalKey: os.Getenv("VIRUSTOTAL_API_KEY"),
		OTXKey:        os.Getenv("OTX_API_KEY"),
		AbuseChKey:    os.Getenv("ABUSECH_API_KEY"),

		GeoIPURL:     os.Getenv("GEOIP_API_URL"),
		CMDBURL:      os.Getenv("CMDB_API_URL"),
		CMDBKey:      os.Getenv("CMDB_API_KEY"),
		DirectoryURL: os.Getenv("DIRECTORY_API_URL"),
		DirectoryKey: os.Getenv("DIRECTORY_API_KEY"),

		RouterURL:        os.Getenv("LLM_ROUTER_URL"),
		LLMEndpoint:      getEnv("LLM_API_URL", "https://api.openai.com/v1/chat/completions"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:         getEnv("LLM_MODEL", "qwen-plus"),
		EmbedEndpoint:    os.Getenv("EMBED_API_URL"),
		EmbedAPIKey:      os.Getenv("EMBED_API_KEY"),
		SimilaritySvcURL: os.Getenv("SIMILARITY_URL"),

		DedupWindow:       getDuration("DEDUP_WINDOW", 5*time.Minute),
		EnrichmentTTL:     getDuration("ENRICHMENT_CACHE_TTL", time.Hour),
		ThreatIntelTTL:    getDuration("THREAT_INTEL_CACHE_TTL", 24*time.Hour),
		EnrichTimeout:     getDuration("ENRICH_TIMEOUT", 3*time.Second),
		IntelDeadline:     getDuration("INTEL_DEADLINE", 10*time.Second),
		LLMTimeout:        getDuration("LLM_TIMEOUT", 30*time.Second),
		SimSearchTimeout:  getDuration("SIMSEARCH_TIMEOUT", 500*time.Millisecond),
		StageSLA:          getDuration("STAGE_SLA", 45*time.Second),
		ShutdownGrace:     getDuration("SHUTDOWN_GRACE", 30*time.Second),
		Prefetch:          getInt("PREFETCH", 10),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 0),
		RateLimitPerMin:   getInt("RATE_LIMIT_PER_MIN", 100),
	}

	if cidrs := os.Getenv("INTERNAL_CIDRS"); cidrs != "" {
		for _, c := range strings.Split(cidrs, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.InternalCIDRs = append(cfg.InternalCIDRs, c)
			}
		}
	}

	// Concurrency defaults to the prefetch window.
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = cfg.Prefetch
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("BROKER_URL is required")
	}
	return cfg, nil
}

// PoolSize returns the DB pool sizing rule: 2 x worker concurrency.
func (c *Config) PoolSize() int {
	return 2 * c.WorkerConcurrency
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
