package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "fitsgw/pkg/platform/strings"
)

// Server captures HTTP server and gateway-wide settings.
type Server struct {
	Addr     string
	DataRoot string
	LogLevel string

	JWTSigningKey string

	PostgresDSN string

	KafkaBrokers []string
	KafkaTopic   string
}

// RedisConfig configures the shared go-redis client used by the session
// cache and the directory listing cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ListingCacheTTL bounds how long a rendered directory listing stays in
// the Redis listing cache before a fresh os.ReadDir is required.
var ListingCacheTTL = 5 * time.Minute

// SessionCacheTTL bounds how long a validated bearer token's claims stay
// cached in Redis before the JWT must be re-verified.
var SessionCacheTTL = 10 * time.Minute

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("FITSGW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dataRoot := os.Getenv("FITSGW_DATA_ROOT")
	if dataRoot == "" {
		dataRoot = "/data"
	}

	logLevel := os.Getenv("FITSGW_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	jwtSigningKey := os.Getenv("FITSGW_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	kafkaTopic := os.Getenv("FITSGW_KAFKA_AUDIT_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "fitsgw.audit"
	}

	return Server{
		Addr:          addr,
		DataRoot:      dataRoot,
		LogLevel:      logLevel,
		JWTSigningKey: jwtSigningKey,
		PostgresDSN:   os.Getenv("FITSGW_POSTGRES_DSN"),
		KafkaBrokers:  splitCSV(os.Getenv("FITSGW_KAFKA_BROKERS")),
		KafkaTopic:    kafkaTopic,
	}
}

// RedisFromEnv builds a RedisConfig from environment variables. URL is
// empty (and the caller's redis.New returns a nil client) when Redis is
// not configured, matching the teacher's "optional dependency" pattern.
func RedisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("FITSGW_REDIS_URL"),
		PoolSize:     envInt("FITSGW_REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("FITSGW_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("FITSGW_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("FITSGW_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("FITSGW_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

// splitCSV parses a comma-separated env var into a deduplicated,
// trimmed slice (e.g. FITSGW_KAFKA_BROKERS), following the teacher's
// pkg/platform/strings.DedupeAndTrim helper instead of a hand-rolled loop.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(s, ","))
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
