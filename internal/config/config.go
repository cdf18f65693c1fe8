package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fabricbill/backend/internal/logger"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	StoreBackend             string
	DatabaseURL              string
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	DefaultRegion            string
	LedgerTimeoutSeconds     int
	LockTTLSeconds           int
	StatementCacheTTLSeconds int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ManagerPIN               string
	LogLevel                 string
	LogFormat                string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if backend == "" {
		backend = BackendMemory
		if os.Getenv("DATABASE_URL") != "" {
			backend = BackendPostgres
		}
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		StoreBackend:             backend,
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		FirestoreProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		DefaultRegion:            strings.ToUpper(getEnv("DEFAULT_REGION", "IN")),
		LedgerTimeoutSeconds:     positiveInt("LEDGER_TIMEOUT_SECONDS", 15),
		LockTTLSeconds:           positiveInt("LOCK_TTL_SECONDS", 30),
		StatementCacheTTLSeconds: positiveInt("STATEMENT_CACHE_TTL_SECONDS", 60),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    positiveInt("ACCESS_TOKEN_TTL_MINUTES", 1440),
		ManagerPIN:               strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c Config) StatementCacheTTL() time.Duration {
	return time.Duration(c.StatementCacheTTLSeconds) * time.Second
}

func (c Config) LoggerConfig() logger.LogConfig {
	lc := logger.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	return lc
}

// ValidateStorage checks that the selected backend has what it needs.
func (c Config) ValidateStorage() error {
	switch c.StoreBackend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		return nil
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
