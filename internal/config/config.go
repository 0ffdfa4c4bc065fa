// Package config loads the donation report settings from the environment,
// optionally seeded from a .env file, applies defaults and validates them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
)

// APIConfig holds the SKY API connection settings.
type APIConfig struct {
	BaseURL         string        // API_BASE_URL
	SubscriptionKey string        // RE_API_KEY
	TokenFile       string        // ACCESS_TOKEN_FILE, JSON with an "access_token" key
	RequestInterval time.Duration // REQUEST_INTERVAL, pause enforced between requests
	RetryBackoff    time.Duration // RETRY_BACKOFF, base of the exponential backoff
	MaxRetries      int           // MAX_RETRIES
	Timeout         time.Duration // HTTP_TIMEOUT, per request
	GiftTypes       []string      // GIFT_TYPES
	LookbackMonths  int           // LOOKBACK_MONTHS, gift-date lookback before the FY start
}

// StorageConfig holds local cache and snapshot locations.
type StorageConfig struct {
	CacheDir        string // CACHE_DIR
	PagePrefix      string // PAGE_PREFIX
	RawSnapshotPath string // RAW_SNAPSHOT_PATH, JSON lines
	SnapshotPath    string // SNAPSHOT_PATH, parquet
}

// WarehouseConfig holds the optional BigQuery snapshot table.
type WarehouseConfig struct {
	ProjectID string // BQ_PROJECT
	DatasetID string // BQ_DATASET
	TableID   string // BQ_TABLE
}

// Enabled reports whether the snapshot table is configured.
func (w WarehouseConfig) Enabled() bool {
	return w.ProjectID != "" && w.DatasetID != "" && w.TableID != ""
}

// MailConfig holds SMTP delivery settings.
type MailConfig struct {
	Username string   // MAIL_USERN
	Password string   // MAIL_PASSWORD
	Host     string   // SMTP_URL
	Port     int      // SMTP_PORT
	From     string   // MAIL_FROM, defaults to Username
	To       []string // SEND_TO
	Cc       []string // CC_TO
	ErrorTo  []string // ERROR_EMAILS_TO, defaults to To
	Subject  string   // REPORT_SUBJECT

	IMAPHost   string // IMAP_URL, sent copies are archived when set
	IMAPPort   int    // IMAP_PORT
	SentFolder string // IMAP_SENT_FOLDER
}

// ArchiveSent reports whether delivered mail is filed over IMAP.
func (m MailConfig) ArchiveSent() bool {
	return m.IMAPHost != ""
}

// ReportConfig holds presentation settings.
type ReportConfig struct {
	Locale   string // REPORT_LOCALE, BCP 47
	Currency string // REPORT_CURRENCY, ISO 4217
	Timezone string // TIMEZONE, IANA name
	JobName  string // JOB_NAME, used in failure notifications
}

// Config holds all configuration values for a run.
type Config struct {
	LogLevel   string // LOG_LEVEL
	GCSBucket  string // GCS_BUCKET, optional archive target
	RunTimeout time.Duration

	API       APIConfig
	Storage   StorageConfig
	Warehouse WarehouseConfig
	Mail      MailConfig
	Report    ReportConfig
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, fmt.Errorf("Location: loading %q: %w", c.Report.Timezone, err)
	}
	return loc, nil
}

// LoadDotEnv loads key=value pairs from the given files into the environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("LoadDotEnv: loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:   strings.ToLower(getenv("LOG_LEVEL", "info")),
		GCSBucket:  getenv("GCS_BUCKET", ""),
		RunTimeout: getdur("RUN_TIMEOUT", 30*time.Minute),

		API: APIConfig{
			BaseURL:         strings.TrimRight(getenv("API_BASE_URL", "https://api.sky.blackbaud.com"), "/"),
			SubscriptionKey: getenv("RE_API_KEY", ""),
			TokenFile:       getenv("ACCESS_TOKEN_FILE", "access_token_output.json"),
			RequestInterval: getdur("REQUEST_INTERVAL", 5*time.Second),
			RetryBackoff:    getdur("RETRY_BACKOFF", 10*time.Second),
			MaxRetries:      getint("MAX_RETRIES", 3),
			Timeout:         getdur("HTTP_TIMEOUT", 60*time.Second),
			GiftTypes: splitCSV(getenv("GIFT_TYPES",
				"Donation,MatchingGiftPayment,PledgePayment,RecurringGiftPayment")),
			LookbackMonths: getint("LOOKBACK_MONTHS", 12),
		},

		Storage: StorageConfig{
			CacheDir:        getenv("CACHE_DIR", "."),
			PagePrefix:      getenv("PAGE_PREFIX", "Gift_List_in_RE"),
			RawSnapshotPath: getenv("RAW_SNAPSHOT_PATH", "gifts_raw.jsonl"),
			SnapshotPath:    getenv("SNAPSHOT_PATH", "gifts.parquet"),
		},

		Warehouse: WarehouseConfig{
			ProjectID: getenv("BQ_PROJECT", ""),
			DatasetID: getenv("BQ_DATASET", ""),
			TableID:   getenv("BQ_TABLE", "gifts"),
		},

		Mail: MailConfig{
			Username: getenv("MAIL_USERN", ""),
			Password: getenv("MAIL_PASSWORD", ""),
			Host:     getenv("SMTP_URL", ""),
			Port:     getint("SMTP_PORT", 465),
			From:     getenv("MAIL_FROM", ""),
			To:       splitCSV(getenv("SEND_TO", "")),
			Cc:       splitCSV(getenv("CC_TO", "")),
			ErrorTo:  splitCSV(getenv("ERROR_EMAILS_TO", "")),
			Subject:  getenv("REPORT_SUBJECT", "Donation Summary"),

			IMAPHost:   getenv("IMAP_URL", ""),
			IMAPPort:   getint("IMAP_PORT", 993),
			SentFolder: getenv("IMAP_SENT_FOLDER", "Sent"),
		},

		Report: ReportConfig{
			Locale:   getenv("REPORT_LOCALE", "en-IN"),
			Currency: strings.ToUpper(getenv("REPORT_CURRENCY", "INR")),
			Timezone: getenv("TIMEZONE", "Asia/Kolkata"),
			JobName:  getenv("JOB_NAME", "Donation Summary from Raisers Edge"),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}
	if len(cfg.Mail.ErrorTo) == 0 {
		cfg.Mail.ErrorTo = cfg.Mail.To
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return cfg, errors.New("API_BASE_URL must be an http(s) URL")
	}
	if cfg.API.RequestInterval < 0 || cfg.API.RetryBackoff < 0 {
		return cfg, errors.New("REQUEST_INTERVAL and RETRY_BACKOFF must be >= 0")
	}
	if cfg.API.MaxRetries < 0 {
		return cfg, errors.New("MAX_RETRIES must be >= 0")
	}
	if cfg.API.Timeout <= 0 || cfg.RunTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if len(cfg.API.GiftTypes) == 0 {
		return cfg, errors.New("GIFT_TYPES must list at least one gift type")
	}
	if cfg.API.LookbackMonths < 0 {
		return cfg, errors.New("LOOKBACK_MONTHS must be >= 0")
	}
	if strings.TrimSpace(cfg.Storage.PagePrefix) == "" || strings.ContainsAny(cfg.Storage.PagePrefix, `/\*?[`) {
		return cfg, errors.New("PAGE_PREFIX must be a plain, non-empty file name prefix")
	}
	if cfg.Mail.Port <= 0 || cfg.Mail.Port > 65535 {
		return cfg, errors.New("SMTP_PORT must be in [1,65535]")
	}
	if cfg.Mail.IMAPPort <= 0 || cfg.Mail.IMAPPort > 65535 {
		return cfg, errors.New("IMAP_PORT must be in [1,65535]")
	}
	if len(cfg.Report.Currency) != 3 {
		return cfg, errors.New("REPORT_CURRENCY must be a three letter ISO 4217 code")
	}
	if _, err := time.LoadLocation(cfg.Report.Timezone); err != nil {
		return cfg, fmt.Errorf("TIMEZONE %q is not a known location: %w", cfg.Report.Timezone, err)
	}

	return cfg, nil
}

// ValidateRun checks the settings a full scheduled run cannot do without.
// Subcommands that only touch local files skip it.
func (c Config) ValidateRun() error {
	if c.API.SubscriptionKey == "" {
		return errors.New("RE_API_KEY must be set")
	}
	if c.Mail.Host == "" {
		return errors.New("SMTP_URL must be set")
	}
	if c.Mail.From == "" {
		return errors.New("MAIL_FROM or MAIL_USERN must be set")
	}
	if len(c.Mail.To) == 0 {
		return errors.New("SEND_TO must list at least one recipient")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
