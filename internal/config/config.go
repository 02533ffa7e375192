package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"comissao/internal/core"
	"comissao/internal/log"
)

// Backends accepted by DATA_BACKEND.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgREST = "postgrest"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgREST}

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Data store
	DataBackend     string
	SQLiteDBPath    string
	PostgRESTURL    string
	PostgRESTAPIKey string
	PostgRESTTable  string

	// Identity provider
	AuthJWKSURL    string
	AuthJWTSecret  string
	AuthIssuer     string
	AuthSignInURL  string
	AuthSignOutURL string
	AdminRole      string

	// Business rules
	Timezone          string
	ServicePrices     string
	DuplicateDebounce time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	ExportReconcileInterval  time.Duration
	ExportReconcileMonths    int
	WorkerMetricsAddr        string

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend:     getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath:    getEnv("SQLITE_DB_PATH", "./data/comissao.db"),
		PostgRESTURL:    getEnv("POSTGREST_URL", ""),
		PostgRESTAPIKey: getEnv("POSTGREST_API_KEY", ""),
		PostgRESTTable:  getEnv("POSTGREST_TABLE", "services"),

		AuthJWKSURL:    getEnv("AUTH_JWKS_URL", ""),
		AuthJWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
		AuthIssuer:     getEnv("AUTH_ISSUER", ""),
		AuthSignInURL:  getEnv("AUTH_SIGN_IN_URL", ""),
		AuthSignOutURL: getEnv("AUTH_SIGN_OUT_URL", ""),
		AdminRole:      getEnv("ADMIN_ROLE", core.DefaultAdminRole),

		Timezone:          getEnv("TIMEZONE", "America/Sao_Paulo"),
		ServicePrices:     getEnv("SERVICE_PRICES", ""),
		DuplicateDebounce: getEnvDuration("DUPLICATE_DEBOUNCE", 500*time.Millisecond),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "comissao"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "export_services"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Serviços"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		ExportReconcileInterval:  getEnvDuration("EXPORT_RECONCILE_INTERVAL", 15*time.Minute),
		ExportReconcileMonths:    getEnvInt("EXPORT_RECONCILE_MONTHS", 2),
		WorkerMetricsAddr:        getEnv("WORKER_METRICS_ADDR", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Location loads the business time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Prices returns the default table with SERVICE_PRICES applied on top.
func (c *Config) Prices() (core.PriceTable, error) {
	return core.ParsePriceTable(c.ServicePrices, core.DefaultPriceTable())
}

// Validate checks the settings the dashboard server needs and reports every
// problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	errors = append(errors, c.validateStore()...)

	if c.AuthJWKSURL == "" && c.AuthJWTSecret == "" {
		errors = append(errors, "either AUTH_JWKS_URL or AUTH_JWT_SECRET must be provided")
	}
	if c.AuthJWKSURL != "" {
		if msg := checkHTTPURL("AUTH_JWKS_URL", c.AuthJWKSURL); msg != "" {
			errors = append(errors, msg)
		}
	}
	if c.AuthJWTSecret != "" && len(c.AuthJWTSecret) < 32 {
		errors = append(errors, "AUTH_JWT_SECRET must be at least 32 bytes")
	}
	if strings.TrimSpace(c.AdminRole) == "" {
		errors = append(errors, "ADMIN_ROLE cannot be empty")
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, err := c.Prices(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid SERVICE_PRICES: %v", err))
	}
	if c.DuplicateDebounce < 0 || c.DuplicateDebounce > 5*time.Second {
		errors = append(errors, fmt.Sprintf("invalid duplicate debounce %v: must be between 0 and 5 seconds", c.DuplicateDebounce))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	errors = append(errors, c.validateAMQP()...)

	return joinErrors(errors)
}

// ValidateWorker checks the settings the export worker needs.
func (c *Config) ValidateWorker() error {
	var errors []string

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	errors = append(errors, c.validateStore()...)

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the export worker")
	}
	errors = append(errors, c.validateAMQP()...)

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the export worker")
	}
	if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS must be provided")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.ExportReconcileInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 minute", c.ExportReconcileInterval))
	} else if c.ExportReconcileInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at most 24 hours", c.ExportReconcileInterval))
	}
	if c.ExportReconcileMonths < 1 || c.ExportReconcileMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid reconcile months %d: must be between 1 and 24", c.ExportReconcileMonths))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	return joinErrors(errors)
}

func (c *Config) validateStore() []string {
	var errors []string
	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
			break
		}
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case BackendPostgREST:
		if c.PostgRESTURL == "" {
			errors = append(errors, "POSTGREST_URL is required when using postgrest backend")
		} else if msg := checkHTTPURL("POSTGREST_URL", c.PostgRESTURL); msg != "" {
			errors = append(errors, msg)
		}
		if c.PostgRESTTable == "" {
			errors = append(errors, "POSTGREST_TABLE cannot be empty when using postgrest backend")
		}
	}
	return errors
}

func (c *Config) validateAMQP() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errors []string
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
	return errors
}

func checkHTTPURL(key, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid %s '%s': %v", key, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Sprintf("invalid %s '%s': missing host", key, raw)
	}
	return ""
}

func joinErrors(errors []string) error {
	if len(errors) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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
