package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
)

var (
	validBackends   = []string{"memory", "sqlite", "postgres", "redis", "sheets"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"tint", "text", "json"}
)

type Config struct {
	// Identity
	UserID string

	// Backend selection
	DataBackend string

	// Memory backend, optional JSON snapshot
	MemoryFilePath string

	// Database
	SQLiteDBPath string
	DatabaseURL  string

	// Redis
	RedisURL    string
	RedisPrefix string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleTabPrefix          string

	// AMQP sync events, disabled when the URL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sync
	RemoteTimeout time.Duration

	// Observability
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	// Display
	Currency    string
	RecentLimit int
}

func Load() *Config {
	cfg := &Config{
		UserID:      getEnv("MONEYBOOK_USER_ID", "local"),
		DataBackend: getEnv("DATA_BACKEND", "sqlite"),

		MemoryFilePath: getEnv("MEMORY_FILE_PATH", ""),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/moneybook.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "moneybook"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleTabPrefix:          getEnv("GOOGLE_TAB_PREFIX", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "moneybook"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "moneybook_sync_events"),

		RemoteTimeout: getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),

		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", "tint")),
		MetricsAddr: getEnv("METRICS_ADDR", ":9464"),

		Currency:    strings.ToUpper(getEnv("MONEYBOOK_CURRENCY", "INR")),
		RecentLimit: getEnvInt("RECENT_LIMIT", 10),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.UserID) == "" {
		errors = append(errors, "user id cannot be empty")
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "memory":
		if c.MemoryFilePath != "" {
			if msg := checkParentDir("memory file", c.MemoryFilePath); msg != "" {
				errors = append(errors, msg)
			}
		}
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := checkParentDir("SQLite database", c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid database URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid database URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	case "redis":
		if c.RedisURL == "" {
			errors = append(errors, "REDIS_URL is required when using redis backend")
		}
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		hasJSON := c.GoogleServiceAccountJSON != ""
		if !hasFile && !hasJSON {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets backend")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RemoteTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at least 100ms", c.RemoteTimeout))
	} else if c.RemoteTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at most 5 minutes", c.RemoteTimeout))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	if c.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be between 1 and 65535", port))
		}
	}

	if money.GetCurrency(c.Currency) == nil {
		errors = append(errors, fmt.Sprintf("unknown currency code '%s'", c.Currency))
	}

	if c.RecentLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid recent limit %d: must be at least 1", c.RecentLimit))
	} else if c.RecentLimit > 1000 {
		errors = append(errors, fmt.Sprintf("invalid recent limit %d: must be at most 1000", c.RecentLimit))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// checkParentDir makes sure the directory holding path exists or can be created.
func checkParentDir(what, path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("cannot create %s directory '%s': %v", what, dir, err)
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
