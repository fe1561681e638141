package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "ballotcore/pkg/platform/strings"
)

// Config captures process-level configuration for the election core.
type Config struct {
	Addr string

	// PostgresDSN selects the durable store. Empty means in-memory stores
	// (dev and test only).
	PostgresDSN string

	// Redis backs the offline queue and applied-key tracking when set.
	Redis RedisConfig

	// Kafka streams committed audit entries to external consumers.
	Kafka KafkaConfig

	// SigningKeyPath points at a PEM-encoded RSA-4096 private key. Empty
	// means an ephemeral key pair is generated at startup (dev only).
	SigningKeyPath string

	// HandleSecret keys the one-way derivation of anonymous vote handles.
	HandleSecret string

	// JWTVerificationKey verifies caller identity tokens minted by the
	// access-control layer.
	JWTVerificationKey string

	// MaxSignPayloadBytes bounds payloads accepted by the signature engine.
	MaxSignPayloadBytes int

	// QuickVerifyDepth is the number of most recent ledger entries checked
	// by quick chain verification.
	QuickVerifyDepth int

	ShutdownTimeout time.Duration
}

// RedisConfig mirrors the connection knobs of the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig describes the audit stream destination.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("BALLOTCORE_ADDR", ":8080"),
		PostgresDSN:         os.Getenv("BALLOTCORE_POSTGRES_DSN"),
		SigningKeyPath:      os.Getenv("BALLOTCORE_SIGNING_KEY"),
		HandleSecret:        envOr("BALLOTCORE_HANDLE_SECRET", "dev-handle-secret-change-in-production"),
		JWTVerificationKey:  envOr("BALLOTCORE_JWT_KEY", "dev-jwt-key-change-in-production"),
		MaxSignPayloadBytes: envInt("BALLOTCORE_MAX_SIGN_PAYLOAD", 1<<20),
		QuickVerifyDepth:    envInt("BALLOTCORE_QUICK_VERIFY_DEPTH", 100),
		ShutdownTimeout:     10 * time.Second,
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("BALLOTCORE_REDIS_URL"),
		PoolSize:     envInt("BALLOTCORE_REDIS_POOL", 10),
		MinIdleConns: envInt("BALLOTCORE_REDIS_MIN_IDLE", 2),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if brokers := os.Getenv("BALLOTCORE_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers:    strutil.DedupeAndTrim(strings.Split(brokers, ",")),
			AuditTopic: envOr("BALLOTCORE_AUDIT_TOPIC", "ballotcore.audit"),
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
