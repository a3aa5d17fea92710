package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Sheets     SheetsConfig     `yaml:"sheets"`
	Collector  CollectorConfig  `yaml:"collector"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// ServerConfig holds the optional read-API server configuration.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
}

// DatabaseConfig holds the Postgres store connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// AnalyticsConfig holds the analytics query endpoint settings.
type AnalyticsConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c AnalyticsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OAuthConfig holds the token endpoint settings. Client credentials per
// proxy group live in the store, not here.
type OAuthConfig struct {
	TokenURL       string `yaml:"token_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c OAuthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SheetsConfig holds Google Sheets access settings. CredentialsJSON is the
// service-account blob, normally injected via GOOGLE_SHEETS_CREDENTIALS.
type SheetsConfig struct {
	CredentialsJSON string `yaml:"credentials_json"`
	WorksheetName   string `yaml:"worksheet_name"`
	StatusColumn    int    `yaml:"status_column"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SheetsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CollectorConfig holds the daily collection cycle settings.
type CollectorConfig struct {
	// ScheduleTime is the daily anchor in HH:MM.
	ScheduleTime string `yaml:"schedule_time"`
	// Timezone is the IANA zone the anchor is interpreted in.
	Timezone string `yaml:"timezone"`
	// BackfillDays is how many trailing dates each cycle covers.
	BackfillDays int `yaml:"backfill_days"`
	// Parallelism bounds concurrent per-channel attempts.
	Parallelism int `yaml:"parallelism"`
	// QuotaRequests per QuotaWindowSeconds is the global throttle.
	QuotaRequests      int `yaml:"quota_requests"`
	QuotaWindowSeconds int `yaml:"quota_window_seconds"`
	// DedupWindowMinutes is how recently a closed run blocks a new one.
	DedupWindowMinutes int `yaml:"dedup_window_minutes"`
	// GraceSeconds is the shutdown grace for in-flight upserts.
	GraceSeconds int `yaml:"grace_seconds"`
}

// DedupWindow returns the run de-duplication window as a duration.
func (c CollectorConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// Grace returns the shutdown grace period as a duration.
func (c CollectorConfig) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// ReconcilerConfig holds the spreadsheet scanner settings.
type ReconcilerConfig struct {
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`
	// RowWindow limits the scan to the trailing N populated rows.
	RowWindow int `yaml:"row_window"`
}

// ScanInterval returns the scan interval as a duration.
func (c ReconcilerConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5
	}
	if c.Analytics.BaseURL == "" {
		c.Analytics.BaseURL = "https://youtubeanalytics.googleapis.com/v2"
	}
	if c.Analytics.TimeoutSeconds == 0 {
		c.Analytics.TimeoutSeconds = 30
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.OAuth.TimeoutSeconds == 0 {
		c.OAuth.TimeoutSeconds = 30
	}
	if c.Sheets.WorksheetName == "" {
		c.Sheets.WorksheetName = "Página1"
	}
	if c.Sheets.StatusColumn == 0 {
		c.Sheets.StatusColumn = 15 // column O
	}
	if c.Sheets.TimeoutSeconds == 0 {
		c.Sheets.TimeoutSeconds = 30
	}
	if c.Collector.ScheduleTime == "" {
		c.Collector.ScheduleTime = "05:00"
	}
	if c.Collector.Timezone == "" {
		c.Collector.Timezone = "America/Sao_Paulo"
	}
	if c.Collector.BackfillDays == 0 {
		c.Collector.BackfillDays = 2
	}
	if c.Collector.Parallelism == 0 {
		c.Collector.Parallelism = 4
	}
	if c.Collector.QuotaRequests == 0 {
		c.Collector.QuotaRequests = 50
	}
	if c.Collector.QuotaWindowSeconds == 0 {
		c.Collector.QuotaWindowSeconds = 100
	}
	if c.Collector.DedupWindowMinutes == 0 {
		c.Collector.DedupWindowMinutes = 5
	}
	if c.Collector.GraceSeconds == 0 {
		c.Collector.GraceSeconds = 10
	}
	if c.Reconciler.ScanIntervalSeconds == 0 {
		c.Reconciler.ScanIntervalSeconds = 300
	}
	if c.Reconciler.RowWindow == 0 {
		c.Reconciler.RowWindow = 15
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ANALYTICS_BASE_URL"); v != "" {
		cfg.Analytics.BaseURL = v
	}
	if v := os.Getenv("OAUTH_TOKEN_URL"); v != "" {
		cfg.OAuth.TokenURL = v
	}
	if v := os.Getenv("GOOGLE_SHEETS_CREDENTIALS"); v != "" {
		cfg.Sheets.CredentialsJSON = v
	}
	if v := os.Getenv("COLLECTOR_SCHEDULE_TIME"); v != "" {
		cfg.Collector.ScheduleTime = v
	}
	if v := os.Getenv("COLLECTOR_TIMEZONE"); v != "" {
		cfg.Collector.Timezone = v
	}
	if v := os.Getenv("COLLECTOR_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Collector.Parallelism = n
		}
	}
	if v := os.Getenv("COLLECTOR_QUOTA_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Collector.QuotaRequests = n
		}
	}

	return cfg, nil
}

// Validate checks that the mandatory settings are present. Callers treat a
// failure here as a configuration error (exit code 3).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url (or DATABASE_URL) is required")
	}
	if _, err := time.Parse("15:04", c.Collector.ScheduleTime); err != nil {
		return fmt.Errorf("config: collector.schedule_time %q is not HH:MM: %w", c.Collector.ScheduleTime, err)
	}
	if _, err := time.LoadLocation(c.Collector.Timezone); err != nil {
		return fmt.Errorf("config: collector.timezone %q: %w", c.Collector.Timezone, err)
	}
	return nil
}
