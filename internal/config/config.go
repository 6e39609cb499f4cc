package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	DBDSN         string
	DBMaxConns    int
	SessionSecret string

	LogLevel string

	RateLimitRPM int

	// Batch re-verification tuning. These keep the env names the scheduled
	// jobs have always used, without a PORTAL_ prefix.
	VerificationMaxRecords    int
	VerificationLookbackHours int

	CpiGatewayBaseURL      string
	CpiGatewayClientID     string
	CpiGatewayClientSecret string

	DpcAPIBaseURL string
	DpcAPIToken   string

	UserInfoURL string

	MailWebhookURL string
	MailTimeoutMS  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = strings.TrimSpace(os.Getenv("PORTAL_ENV"))
	if cfg.Env == "" {
		return nil, fmt.Errorf("PORTAL_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("PORTAL_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = getEnvOrDefault("PORTAL_HTTP_ADDR", ":8080")

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PORTAL_BASE_URL")), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("PORTAL_BASE_URL is required")
	}

	cfg.DBDSN = strings.TrimSpace(os.Getenv("PORTAL_DB_DSN"))
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("PORTAL_DB_DSN is required")
	}

	var err error
	cfg.DBMaxConns, err = getEnvIntOrDefault("PORTAL_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("PORTAL_DB_MAX_CONNS must be positive (got: %d)", cfg.DBMaxConns)
	}

	cfg.SessionSecret = os.Getenv("PORTAL_SESSION_SECRET")
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("PORTAL_SESSION_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("PORTAL_SESSION_SECRET must be at least 32 characters (currently %d)", len(cfg.SessionSecret))
	}

	cfg.LogLevel = getEnvOrDefault("PORTAL_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("PORTAL_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	cfg.RateLimitRPM, err = getEnvIntOrDefault("PORTAL_RATE_LIMIT_RPM", 120)
	if err != nil {
		return nil, err
	}

	cfg.VerificationMaxRecords, err = getEnvIntOrDefault("VERIFICATION_MAX_RECORDS", 10)
	if err != nil {
		return nil, err
	}
	if cfg.VerificationMaxRecords <= 0 {
		return nil, fmt.Errorf("VERIFICATION_MAX_RECORDS must be positive (got: %d)", cfg.VerificationMaxRecords)
	}

	cfg.VerificationLookbackHours, err = getEnvIntOrDefault("VERIFICATION_LOOKBACK_HOURS", 144)
	if err != nil {
		return nil, err
	}
	if cfg.VerificationLookbackHours <= 0 {
		return nil, fmt.Errorf("VERIFICATION_LOOKBACK_HOURS must be positive (got: %d)", cfg.VerificationLookbackHours)
	}

	cfg.CpiGatewayBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CPI_API_GW_BASE_URL")), "/")
	if cfg.CpiGatewayBaseURL == "" {
		return nil, fmt.Errorf("CPI_API_GW_BASE_URL is required")
	}
	cfg.CpiGatewayClientID = strings.TrimSpace(os.Getenv("CPI_API_GW_CLIENT_ID"))
	cfg.CpiGatewayClientSecret = os.Getenv("CPI_API_GW_CLIENT_SECRET")
	if cfg.CpiGatewayClientID == "" || cfg.CpiGatewayClientSecret == "" {
		return nil, fmt.Errorf("CPI_API_GW_CLIENT_ID and CPI_API_GW_CLIENT_SECRET are required")
	}

	cfg.DpcAPIBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("DPC_API_BASE_URL")), "/")
	if cfg.DpcAPIBaseURL == "" {
		return nil, fmt.Errorf("DPC_API_BASE_URL is required")
	}
	cfg.DpcAPIToken = os.Getenv("DPC_API_TOKEN")

	cfg.UserInfoURL = strings.TrimSpace(os.Getenv("USER_INFO_URL"))
	if cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("USER_INFO_URL is required")
	}

	cfg.MailWebhookURL = strings.TrimSpace(os.Getenv("MAIL_WEBHOOK_URL"))

	cfg.MailTimeoutMS, err = getEnvIntOrDefault("MAIL_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, err
	}
	if cfg.MailTimeoutMS <= 0 || cfg.MailTimeoutMS > 30000 {
		return nil, fmt.Errorf("MAIL_TIMEOUT_MS must be between 1 and 30000 (got: %d)", cfg.MailTimeoutMS)
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	return map[string]string{
		"PORTAL_ENV":                  c.Env,
		"PORTAL_HTTP_ADDR":            c.HTTPAddr,
		"PORTAL_BASE_URL":             c.BaseURL,
		"PORTAL_DB_DSN":               redactDSN(c.DBDSN),
		"PORTAL_DB_MAX_CONNS":         fmt.Sprintf("%d", c.DBMaxConns),
		"PORTAL_SESSION_SECRET":       "[REDACTED]",
		"PORTAL_LOG_LEVEL":            c.LogLevel,
		"PORTAL_RATE_LIMIT_RPM":       fmt.Sprintf("%d", c.RateLimitRPM),
		"VERIFICATION_MAX_RECORDS":    fmt.Sprintf("%d", c.VerificationMaxRecords),
		"VERIFICATION_LOOKBACK_HOURS": fmt.Sprintf("%d", c.VerificationLookbackHours),
		"CPI_API_GW_BASE_URL":         c.CpiGatewayBaseURL,
		"CPI_API_GW_CLIENT_ID":        c.CpiGatewayClientID,
		"CPI_API_GW_CLIENT_SECRET":    "[REDACTED]",
		"DPC_API_BASE_URL":            c.DpcAPIBaseURL,
		"DPC_API_TOKEN":               "[REDACTED]",
		"USER_INFO_URL":               c.UserInfoURL,
		"MAIL_WEBHOOK_URL":            c.MailWebhookURL,
		"MAIL_TIMEOUT_MS":             fmt.Sprintf("%d", c.MailTimeoutMS),
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}
