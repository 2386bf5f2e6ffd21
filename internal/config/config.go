package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"duescheck/internal/core"
)

type Config struct {
	// HTTP Server
	Port               string
	LogLevel           string
	RateLimitPerMinute int
	CookieSecure       bool
	UploadDir          string

	// Dues data source
	DataBackend string
	DataDir     string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleAPIKey             string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string
	SummarySheetName         string
	SearchLogSheetName       string
	SheetsCacheTTL           time.Duration

	// Dues rules
	PriceTable        string
	ShortCodePrefixes string
	StudentIDLength   int
	GroupTable        string

	// Admin
	AdminPassword   string
	AdminJWTSecret  string
	AdminSessionTTL time.Duration

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
		UploadDir:          getEnv("UPLOAD_DIR", "./data/uploads"),

		DataBackend: getEnv("DATA_BACKEND", "memory"),
		DataDir:     getEnv("DATA_DIR", "./data/sheets"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/duescheck.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "duescheck"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "search_log"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleAPIKey:             getEnv("GOOGLE_API_KEY", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
		SummarySheetName:         getEnv("SUMMARY_SHEET_NAME", "สรุปยอดเงิน"),
		SearchLogSheetName:       getEnv("SEARCH_LOG_SHEET_NAME", "ประวัติการค้นหา"),
		SheetsCacheTTL:           getEnvDuration("SHEETS_CACHE_TTL", 5*time.Minute),

		PriceTable:        getEnv("PRICE_TABLE", core.DefaultPriceTable().String()),
		ShortCodePrefixes: getEnv("SHORT_CODE_PREFIXES", "6810610"),
		StudentIDLength:   getEnvInt("STUDENT_ID_LENGTH", core.DefaultStudentIDLength),
		GroupTable:        getEnv("GROUP_TABLE", "6810610059-6810610999=ผลิตภัณฑ์;*=กราฟิก"),

		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		AdminSessionTTL: getEnvDuration("ADMIN_SESSION_TTL", 12*time.Hour),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 30*time.Second),
	}

	return cfg
}

// Pricing parses PRICE_TABLE.
func (c *Config) Pricing() (core.PriceTable, error) {
	return core.ParsePriceTable(c.PriceTable)
}

// ShortCodes parses SHORT_CODE_PREFIXES with STUDENT_ID_LENGTH.
func (c *Config) ShortCodes() (core.ShortCodeExpander, error) {
	return core.ParseShortCodePrefixes(c.ShortCodePrefixes, c.StudentIDLength)
}

// Groups parses GROUP_TABLE.
func (c *Config) Groups() (core.GroupTable, error) {
	return core.ParseGroupTable(c.GroupTable)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sheets"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// SQLite backs the community features for every data backend.
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if err := ensureDir(filepath.Dir(c.SQLiteDBPath)); err != nil {
		errors = append(errors, fmt.Sprintf("cannot create SQLite database directory: %v", err))
	}

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

	if c.DataBackend == "sheets" {
		errors = append(errors, c.validateSheets()...)
	}

	if c.SheetsCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid sheets cache TTL %v: must be positive", c.SheetsCacheTTL))
	}
	if _, err := c.Pricing(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid PRICE_TABLE: %v", err))
	}
	if _, err := c.ShortCodes(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid SHORT_CODE_PREFIXES: %v", err))
	}
	if _, err := c.Groups(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid GROUP_TABLE: %v", err))
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 16 {
		errors = append(errors, "ADMIN_JWT_SECRET must be at least 16 characters")
	}
	if c.AdminSessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid admin session TTL %v: must be at least 1 minute", c.AdminSessionTTL))
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) validateSheets() []string {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
	}

	hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != ""
	hasClient := c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != ""
	hasToken := c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != ""

	switch {
	case hasServiceAccount, c.GoogleAPIKey != "" && !hasClient && !hasToken:
	case hasClient && !hasToken:
		errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided with an OAuth client")
	case hasToken && !hasClient:
		errors = append(errors, "either GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_JSON must be provided with an OAuth token")
	case !hasClient && !hasToken:
		errors = append(errors, "sheets backend needs credentials: a service account, an OAuth client and token, or GOOGLE_API_KEY")
	}

	for label, path := range map[string]string{
		"service account": c.GoogleServiceAccountFile,
		"OAuth client":    c.GoogleOAuthClientFile,
		"OAuth token":     c.GoogleOAuthTokenFile,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google %s file does not exist: %s", label, path))
		}
	}
	return errors
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
