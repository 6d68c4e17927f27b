package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// InvalidationCfg only decides whether the invalidation consumer runs.
// Kafka connection settings live with the consumer itself.
type InvalidationCfg struct {
	Enabled bool
	Driver  string
}

type Config struct {
	Addr            string
	LogLevel        string
	PygeoapiURL     string
	ServicesPath    string
	UpstreamTimeout time.Duration
	SchemaTTL       time.Duration
	SchemaCacheSize int
	DefaultLimit    int
	MaxLimit        int
	CacheDriver     string
	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheOpTimeout  time.Duration
	RedisAddr       string
	Invalidation    InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		PygeoapiURL:     getenv("PYGEOAPI_URL", "http://localhost:5000"),
		ServicesPath:    getenv("SERVICES_CONFIG", "services.yml"),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 10*time.Second),
		SchemaTTL:       getduration("SCHEMA_TTL", 5*time.Minute),
		SchemaCacheSize: getint("SCHEMA_CACHE_SIZE", 128),
		DefaultLimit:    getint("QUERY_DEFAULT_LIMIT", 1000),
		MaxLimit:        getint("QUERY_MAX_LIMIT", 10000),
		CacheDriver:     strings.ToLower(getenv("CACHE_DRIVER", "none")),
		CacheTTL:        getduration("CACHE_TTL_DEFAULT", 60*time.Second),
		CacheMaxEntries: getint("CACHE_MAX_ENTRIES", 4096),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
