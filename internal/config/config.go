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
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"pagos/internal/installments"
	"pagos/internal/invoicing"
	"pagos/internal/log"
)

type Config struct {
	// Database
	DataBackend  string
	SQLiteDBPath string

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPEventsQueue  string
	AMQPInvoiceQueue string

	// Tax gateway. An empty URL selects the in-process sandbox.
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration

	// Locale
	Timezone       string
	CurrencySymbol string

	// Invoicing
	TaxRate            string
	TaxIDLengthFactura int
	TaxIDLengthBoleta  int
	SeriesFactura      string
	SeriesBoleta       string
	SeriesCreditNote   string
	SeriesDebitNote    string

	// Ledger
	SingleGraceDays int
	DefaultCadence  string

	// Worker
	StaleInvoiceAfter  time.Duration
	StaleCheckInterval time.Duration
	StaleAutoRetry     bool
	DigestInterval     time.Duration
	OverdueLookback    int

	// Calendar
	CalendarCacheSize int
	CalendarCacheTTL  time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvFile loads variables from a .env file if one exists. Variables
// already set in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func Load() *Config {
	cfg := &Config{
		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/pagos.db"),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "pagos"),
		AMQPEventsQueue:  getEnv("AMQP_EVENTS_QUEUE", "ledger_events"),
		AMQPInvoiceQueue: getEnv("AMQP_INVOICE_QUEUE", "invoice_requests"),

		GatewayURL:     getEnv("GATEWAY_URL", ""),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),

		Timezone:       getEnv("TIMEZONE", "America/Lima"),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "S/"),

		TaxRate:            getEnv("TAX_RATE", "0.18"),
		TaxIDLengthFactura: getEnvInt("TAXID_LENGTH_FACTURA", 11),
		TaxIDLengthBoleta:  getEnvInt("TAXID_LENGTH_BOLETA", 8),
		SeriesFactura:      getEnv("SERIES_FACTURA", "F001"),
		SeriesBoleta:       getEnv("SERIES_BOLETA", "B001"),
		SeriesCreditNote:   getEnv("SERIES_CREDIT_NOTE", "FC01"),
		SeriesDebitNote:    getEnv("SERIES_DEBIT_NOTE", "FD01"),

		SingleGraceDays: getEnvInt("SINGLE_GRACE_DAYS", 0),
		DefaultCadence:  getEnv("DEFAULT_CADENCE", installments.Monthly),

		StaleInvoiceAfter:  getEnvDuration("STALE_INVOICE_AFTER", 10*time.Minute),
		StaleCheckInterval: getEnvDuration("STALE_CHECK_INTERVAL", time.Minute),
		StaleAutoRetry:     getEnvBool("STALE_AUTO_RETRY", false),
		DigestInterval:     getEnvDuration("OVERDUE_DIGEST_INTERVAL", 24*time.Hour),
		OverdueLookback:    getEnvInt("OVERDUE_LOOKBACK_DAYS", 30),

		CalendarCacheSize: getEnvInt("CALENDAR_CACHE_SIZE", 64),
		CalendarCacheTTL:  getEnvDuration("CALENDAR_CACHE_TTL", 5*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
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
		if c.AMQPInvoiceQueue == "" {
			errors = append(errors, "AMQP invoice queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GatewayURL != "" {
		if parsedURL, err := url.Parse(c.GatewayURL); err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid gateway URL '%s': must be an http or https URL", c.GatewayURL))
		}
	}
	if c.GatewayTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid gateway timeout %v: must be positive", c.GatewayTimeout))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if rate, err := decimal.NewFromString(c.TaxRate); err != nil {
		errors = append(errors, fmt.Sprintf("invalid tax rate '%s': must be a decimal", c.TaxRate))
	} else if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errors = append(errors, fmt.Sprintf("invalid tax rate %s: must be in [0, 1)", c.TaxRate))
	}

	if c.TaxIDLengthFactura < 1 {
		errors = append(errors, fmt.Sprintf("invalid factura tax id length %d: must be at least 1", c.TaxIDLengthFactura))
	}
	if c.TaxIDLengthBoleta < 1 {
		errors = append(errors, fmt.Sprintf("invalid boleta tax id length %d: must be at least 1", c.TaxIDLengthBoleta))
	}

	for doc, series := range c.series() {
		if len(series) != 4 {
			errors = append(errors, fmt.Sprintf("invalid %s series '%s': must be 4 characters", doc, series))
		}
	}

	if c.SingleGraceDays < 0 {
		errors = append(errors, fmt.Sprintf("invalid single grace days %d: must not be negative", c.SingleGraceDays))
	}
	if _, err := installments.GetCadence(c.DefaultCadence); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default cadence '%s'", c.DefaultCadence))
	}

	// Validate worker configuration
	if c.StaleInvoiceAfter < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stale invoice age %v: must be at least 1 second", c.StaleInvoiceAfter))
	}
	if c.StaleCheckInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stale check interval %v: must be at least 1 second", c.StaleCheckInterval))
	} else if c.StaleCheckInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid stale check interval %v: must be at most 24 hours", c.StaleCheckInterval))
	}
	if c.DigestInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid overdue digest interval %v: must be at least 1 minute", c.DigestInterval))
	}
	if c.OverdueLookback < 1 || c.OverdueLookback > 366 {
		errors = append(errors, fmt.Sprintf("invalid overdue lookback %d: must be between 1 and 366 days", c.OverdueLookback))
	}

	if c.CalendarCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid calendar cache size %d: must not be negative", c.CalendarCacheSize))
	}
	if c.CalendarCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid calendar cache TTL %v: must not be negative", c.CalendarCacheTTL))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) series() map[invoicing.DocumentType]string {
	return map[invoicing.DocumentType]string{
		invoicing.Factura:    c.SeriesFactura,
		invoicing.Boleta:     c.SeriesBoleta,
		invoicing.CreditNote: c.SeriesCreditNote,
		invoicing.DebitNote:  c.SeriesDebitNote,
	}
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InvoicingConfig maps the invoicing keys onto a workflow config.
func (c *Config) InvoicingConfig() invoicing.Config {
	cfg := invoicing.DefaultConfig()
	if rate, err := decimal.NewFromString(c.TaxRate); err == nil {
		cfg.TaxRate = rate
	}
	if c.TaxIDLengthFactura > 0 {
		cfg.TaxIDRules[invoicing.Factura] = []int{c.TaxIDLengthFactura}
	}
	if c.TaxIDLengthBoleta > 0 {
		cfg.TaxIDRules[invoicing.Boleta] = []int{c.TaxIDLengthBoleta}
	}
	notes := []int{c.TaxIDLengthBoleta, c.TaxIDLengthFactura}
	slices.Sort(notes)
	notes = slices.Compact(notes)
	cfg.TaxIDRules[invoicing.CreditNote] = notes
	cfg.TaxIDRules[invoicing.DebitNote] = slices.Clone(notes)
	for doc, series := range c.series() {
		if series != "" {
			cfg.Series[doc] = series
		}
	}
	if c.GatewayTimeout > 0 {
		cfg.GatewayTimeout = c.GatewayTimeout
	}
	return cfg
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
