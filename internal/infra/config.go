package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Job store drivers.
const (
	JobStorePostgres = "postgres"
	JobStoreRedis    = "redis"
	JobStoreMemory   = "memory"
)

// Queue drivers.
const (
	QueueDriverPool  = "pool"
	QueueDriverAsynq = "asynq"
)

// Rate limit backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string
	JWTSecret   string

	AllowAnonymous bool
	AutoMigrate    bool

	JobStore          string
	QueueDriver       string
	WorkerConcurrency int
	WorkerQueueSize   int

	RateLimitBackend   string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	BurstLimitRequests int
	BurstLimitWindow   time.Duration

	InferenceProvider string
	ReplicateAPIToken string
	ReplicateBaseURL  string
	ReplicateModel    string
	InferenceTimeout  time.Duration

	StoragePath        string
	StorageBaseURL     string
	InputHostAllowlist []string

	GeoIPDBPath        string
	CORSAllowedOrigins []string
	TrustedProxies     []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 0),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		AllowAnonymous: getEnvBool("ALLOW_ANONYMOUS", false),
		AutoMigrate:    getEnvBool("AUTO_MIGRATE", false),

		JobStore:          strings.ToLower(getEnv("JOB_STORE", JobStorePostgres)),
		QueueDriver:       strings.ToLower(getEnv("QUEUE_DRIVER", QueueDriverPool)),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerQueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 64),

		RateLimitBackend:   strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		BurstLimitRequests: getEnvInt("BURST_LIMIT_REQUESTS", 5),
		BurstLimitWindow:   getEnvDuration("BURST_LIMIT_WINDOW", time.Minute),

		InferenceProvider: strings.ToLower(getEnv("INFERENCE_PROVIDER", "replicate")),
		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:    getEnv("REPLICATE_MODEL", "tencentarc/gfpgan"),
		InferenceTimeout:  getEnvDuration("INFERENCE_TIMEOUT", 2*time.Minute),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		TrustedProxies:     splitList(os.Getenv("TRUSTED_PROXIES")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}
	cfg.InputHostAllowlist = normalizeHosts(splitList(os.Getenv("INPUT_HOST_ALLOWLIST")))

	switch cfg.JobStore {
	case JobStorePostgres, JobStoreRedis, JobStoreMemory:
	default:
		return nil, fmt.Errorf("JOB_STORE %q is not supported", cfg.JobStore)
	}
	switch cfg.QueueDriver {
	case QueueDriverPool, QueueDriverAsynq:
	default:
		return nil, fmt.Errorf("QUEUE_DRIVER %q is not supported", cfg.QueueDriver)
	}
	switch cfg.RateLimitBackend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND %q is not supported", cfg.RateLimitBackend)
	}

	if cfg.JobStore == JobStorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.NeedsRedis() && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.WorkerQueueSize < 1 {
		cfg.WorkerQueueSize = 1
	}

	return cfg, nil
}

// NeedsRedis reports whether any selected driver depends on redis.
func (c *Config) NeedsRedis() bool {
	return c.JobStore == JobStoreRedis ||
		c.QueueDriver == QueueDriverAsynq ||
		c.RateLimitBackend == RateLimitBackendRedis
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeHosts lowercases, dedupes and sorts host entries. Entries given as
// URLs are reduced to their hostname.
func normalizeHosts(entries []string) []string {
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		host := strings.ToLower(e)
		if strings.Contains(host, "://") {
			if u, err := url.Parse(host); err == nil {
				host = u.Hostname()
			}
		}
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
