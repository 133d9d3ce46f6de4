package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

type Config struct {
	ServerPort string

	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	SQLitePath  string

	JWTSecret string
	LogLevel  string
}

// Autosave tunes the autosave client. It needs no server settings, so it is
// loaded separately from Config.
type Autosave struct {
	Debounce     time.Duration
	SavedDisplay time.Duration
	SaveTimeout  time.Duration
}

// Load reads the optional .env file (or the given files) and then the process
// environment.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "formsave"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "formsave.db"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// LoadAutosave reads the autosave timings from the optional .env file (or
// the given files) and the process environment. Unset or invalid values
// fall back to the defaults.
func LoadAutosave(envFiles ...string) Autosave {
	_ = godotenv.Load(envFiles...)

	return Autosave{
		Debounce:     getEnvMillis("AUTOSAVE_DEBOUNCE_MS", 1500),
		SavedDisplay: getEnvMillis("AUTOSAVE_SAVED_DISPLAY_MS", 2000),
		SaveTimeout:  getEnvMillis("SAVE_TIMEOUT_MS", 10000),
	}
}

// DatabaseURL returns the data source name for the configured driver.
// The memory driver has none.
func (c *Config) DatabaseURL() string {
	switch c.StoreDriver {
	case DriverPostgres:
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", c.SQLitePath)
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	ms := defaultValue
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			ms = n
		}
	}
	return time.Duration(ms) * time.Millisecond
}
