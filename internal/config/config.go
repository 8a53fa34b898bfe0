package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database / Redis
	DatabaseURL string
	RedisURL    string

	// Backend selection: "postgres"/"memory" for RDB, "redis"/"memory" for KVS.
	// Memory backends are for tests and single-node deploys without external
	// dependencies; the default is the durable, multi-process backend.
	RDBBackend string
	KVSBackend string

	// Server
	Port      string
	GroupURL  string
	MsgQueuesURL string

	// Security
	JWTSecret         string
	JWTExpiration     time.Duration
	ReverseProxyIPs   []string

	// Matchmaking / game launch
	GameHost          string
	GamePortRangeStart int
	GamePortRangeStop  int

	// Stream multiplexer
	HeartbeatInterval time.Duration
	GreetingDelay     time.Duration

	// Revocation set maintenance
	RevocationPruneInterval time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/matchcore?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		RDBBackend: getEnv("RDB_BACKEND", "postgres"),
		KVSBackend: getEnv("KVS_BACKEND", "redis"),

		Port:         getEnv("APP_PORT", "8080"),
		GroupURL:     getEnv("GROUP_URL", "http://localhost:8080/v1/groups"),
		MsgQueuesURL: getEnv("MSGQUEUES_URL", "http://localhost:8080/v1/msgqueues"),

		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiration:   getEnvDuration("JWT_EXPIRATION_TIME", 12*time.Hour),
		ReverseProxyIPs: getEnvList("REVERSE_PROXY_IPS", nil),

		GameHost:           getEnv("GAME_HOST", "127.0.0.1"),
		GamePortRangeStart: getEnvInt("GAME_PORT_RANGE_START", 20000),
		GamePortRangeStop:  getEnvInt("GAME_PORT_RANGE_STOP", 30000),

		HeartbeatInterval: getEnvDuration("STREAM_HEARTBEAT_INTERVAL", 30*time.Second),
		GreetingDelay:     getEnvDuration("STREAM_GREETING_DELAY", 200*time.Millisecond),

		RevocationPruneInterval: getEnvDuration("REVOCATION_PRUNE_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
