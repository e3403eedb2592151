package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds importer configuration from environment.
type Config struct {
	Port         int
	PostgresURL  string
	RedisURL     string
	APITokens    map[string]struct{}
	SnapshotPath string

	// AutoCreateCollections makes a missing destination collection on
	// first use instead of rejecting the batch. Off by default; the
	// companion app normally owns collections.
	AutoCreateCollections bool

	BrowserHeadless bool
	NavTimeout      time.Duration
	WaitTimeout     time.Duration

	RealtyBaseURL      string
	RealtyAPIKey       string
	RealtyTimeout      time.Duration
	RealtyRate         float64
	QuotaMonthlyLimit  int64
	QuotaCountFailures bool

	WebhookURL   string
	EventChannel string
}

// Load reads configuration from environment variables, with a local
// .env taken into account for development.
// Env prefix: IMPORTER_
func Load() *Config {
	_ = godotenv.Load()

	tokensRaw := getEnv("IMPORTER_API_TOKENS", "")
	tokens := make(map[string]struct{})
	for _, t := range strings.Split(tokensRaw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens[t] = struct{}{}
		}
	}

	return &Config{
		Port:         getEnvInt("IMPORTER_PORT", 8084),
		PostgresURL:  getEnv("IMPORTER_POSTGRES_URL", "postgres://localhost:5432/propertysync"),
		RedisURL:     getEnv("IMPORTER_REDIS_URL", "redis://localhost:6379/0"),
		APITokens:    tokens,
		SnapshotPath: getEnv("IMPORTER_SNAPSHOT_PATH", "/data/snapshots"),

		AutoCreateCollections: getEnvBool("IMPORTER_AUTO_CREATE_COLLECTIONS", false),

		BrowserHeadless: getEnvBool("IMPORTER_BROWSER_HEADLESS", true),
		NavTimeout:      getEnvSeconds("IMPORTER_BROWSER_NAV_TIMEOUT_SECONDS", 60),
		WaitTimeout:     getEnvSeconds("IMPORTER_BROWSER_WAIT_TIMEOUT_SECONDS", 15),

		RealtyBaseURL:      getEnv("IMPORTER_REALTY_BASE_URL", "https://api.realtydata.example.com"),
		RealtyAPIKey:       getEnv("IMPORTER_REALTY_API_KEY", ""),
		RealtyTimeout:      getEnvSeconds("IMPORTER_REALTY_TIMEOUT_SECONDS", 10),
		RealtyRate:         getEnvFloat("IMPORTER_REALTY_RATE_PER_SECOND", 5),
		QuotaMonthlyLimit:  getEnvInt64("IMPORTER_QUOTA_MONTHLY_LIMIT", 1000),
		QuotaCountFailures: getEnvBool("IMPORTER_QUOTA_COUNT_FAILURES", true),

		WebhookURL:   getEnv("IMPORTER_WEBHOOK_URL", ""),
		EventChannel: getEnv("IMPORTER_EVENT_CHANNEL", "import:events"),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}
