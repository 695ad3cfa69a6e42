package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the insight worker
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
	Database  DatabaseConfig        `yaml:"database"`
	Redis     RedisConfig           `yaml:"redis"`
	Google    GoogleConfig          `yaml:"google"`
	Email     EmailConfig           `yaml:"email"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Analyzer  AnalyzerConfig        `yaml:"analyzer"`
	Delivery  DeliveryConfig        `yaml:"delivery"`
	Notify    NotifyConfig          `yaml:"notify"`
	Gate      GateConfig            `yaml:"gate"`
	Retention RetentionConfig       `yaml:"retention"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	OpsToken       string   `yaml:"ops_token"`
	AppURL         string   `yaml:"app_url"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. An empty URL disables Redis; locks then
// fall back to PostgreSQL advisory locks and deferred delivery is unavailable.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLMinutes int    `yaml:"lock_ttl_minutes"`
	RetryKey       string `yaml:"retry_key"`
}

// LockTTL returns the per-subscriber lock TTL
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// GoogleConfig holds OAuth client and Analytics Data API settings
type GoogleConfig struct {
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	RedirectURL       string `yaml:"redirect_url"`
	DataAPIBaseURL    string `yaml:"data_api_base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries"`
	HandoffTTLMinutes int    `yaml:"handoff_ttl_minutes"`
}

// Timeout returns the configured timeout as a duration
func (c GoogleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HandoffTTL returns how long an OAuth hand-off stays claimable
func (c GoogleConfig) HandoffTTL() time.Duration {
	return time.Duration(c.HandoffTTLMinutes) * time.Minute
}

// EmailConfig selects and configures the email provider
type EmailConfig struct {
	Provider  string       `yaml:"provider"` // "ses" or "resend"
	FromEmail string       `yaml:"from_email"`
	FromName  string       `yaml:"from_name"`
	ReplyTo   string       `yaml:"reply_to"`
	SES       SESConfig    `yaml:"ses"`
	Resend    ResendConfig `yaml:"resend"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// ResendConfig holds Resend API configuration
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SchedulerConfig controls the hourly tick
type SchedulerConfig struct {
	Enabled                  bool   `yaml:"enabled"`
	Spec                     string `yaml:"spec"`
	Concurrency              int    `yaml:"concurrency"`
	Timezone                 string `yaml:"timezone"`
	SubscriberTimeoutMinutes int    `yaml:"subscriber_timeout_minutes"`
}

// SubscriberTimeout bounds one subscriber run
func (c SchedulerConfig) SubscriberTimeout() time.Duration {
	return time.Duration(c.SubscriberTimeoutMinutes) * time.Minute
}

// AnalyzerConfig holds the anomaly thresholds
type AnalyzerConfig struct {
	MinHistory     int     `yaml:"min_history"`
	ZThreshold     float64 `yaml:"z_threshold"`
	RecentDays     int     `yaml:"recent_days"`
	TrendWindow    int     `yaml:"trend_window"`
	SlopeThreshold float64 `yaml:"slope_threshold"`
	MaxInsights    int     `yaml:"max_insights"`
}

// DeliveryConfig controls how digests are delivered
type DeliveryConfig struct {
	Mode                         string `yaml:"mode"` // "inline" or "deferred"
	StillProcessingIntervalHours int    `yaml:"still_processing_interval_hours"`
	StillProcessingMinAgeHours   int    `yaml:"still_processing_min_age_hours"`
	DedupeWindowHours            int    `yaml:"dedupe_window_hours"`
}

// StillProcessingInterval returns the minimum gap between notices
func (c DeliveryConfig) StillProcessingInterval() time.Duration {
	return time.Duration(c.StillProcessingIntervalHours) * time.Hour
}

// StillProcessingMinAge returns the connection age before a notice is sent
func (c DeliveryConfig) StillProcessingMinAge() time.Duration {
	return time.Duration(c.StillProcessingMinAgeHours) * time.Hour
}

// DedupeWindow returns the same-day resend guard
func (c DeliveryConfig) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowHours) * time.Hour
}

// NotifyConfig controls notification retries
type NotifyConfig struct {
	MaxAttempts      int   `yaml:"max_attempts"`
	DelaysSeconds    []int `yaml:"delays_seconds"`
	RetryPollSeconds int   `yaml:"retry_poll_seconds"`
}

// Delays returns the per-attempt delays
func (c NotifyConfig) Delays() []time.Duration {
	out := make([]time.Duration, len(c.DelaysSeconds))
	for i, s := range c.DelaysSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// RetryPollInterval returns how often the retry queue is drained
func (c NotifyConfig) RetryPollInterval() time.Duration {
	return time.Duration(c.RetryPollSeconds) * time.Second
}

// GateConfig controls subscriber eligibility
type GateConfig struct {
	WeekdayZone string `yaml:"weekday_zone"` // "server" or "subscriber"
	WindowHours int    `yaml:"window_hours"`
}

// RetentionConfig controls the maintenance workers
type RetentionConfig struct {
	Enabled              bool `yaml:"enabled"`
	CleanupIntervalHours int  `yaml:"cleanup_interval_hours"`
	EmailLogDays         int  `yaml:"email_log_days"`
	JobRunDays           int  `yaml:"job_run_days"`
	InsightDays          int  `yaml:"insight_days"`
	StaleJobRunMinutes   int  `yaml:"stale_job_run_minutes"`
}

// CleanupInterval returns how often expired rows are pruned
func (c RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// StaleJobRunAge returns how long a tick may stay running
func (c RetentionConfig) StaleJobRunAge() time.Duration {
	return time.Duration(c.StaleJobRunMinutes) * time.Minute
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// EmailLogRetention returns how long delivery audit rows are kept
func (c RetentionConfig) EmailLogRetention() time.Duration { return days(c.EmailLogDays) }

// JobRunRetention returns how long tick history is kept
func (c RetentionConfig) JobRunRetention() time.Duration { return days(c.JobRunDays) }

// InsightRetention returns how long persisted insights are kept
func (c RetentionConfig) InsightRetention() time.Duration { return days(c.InsightDays) }

// TierConfig is one row of the tier policy table
type TierConfig struct {
	LookbackDays         int `yaml:"lookback_days"`
	MinEmailIntervalDays int `yaml:"min_email_interval_days"`
	InsightsPerEmail     int `yaml:"insights_per_email"`
}

// MinEmailInterval returns the minimum gap between digests
func (c TierConfig) MinEmailInterval() time.Duration {
	return days(c.MinEmailIntervalDays)
}

// Load reads and parses the configuration file
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

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Redis.LockTTLMinutes == 0 {
		cfg.Redis.LockTTLMinutes = 30
	}
	if cfg.Redis.RetryKey == "" {
		cfg.Redis.RetryKey = "insights:notify:retry"
	}
	if cfg.Google.DataAPIBaseURL == "" {
		cfg.Google.DataAPIBaseURL = "https://analyticsdata.googleapis.com/v1beta"
	}
	if cfg.Google.TimeoutSeconds == 0 {
		cfg.Google.TimeoutSeconds = 30
	}
	if cfg.Google.MaxRetries == 0 {
		cfg.Google.MaxRetries = 3
	}
	if cfg.Google.HandoffTTLMinutes == 0 {
		cfg.Google.HandoffTTLMinutes = 10
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "ses"
	}
	if cfg.Email.SES.Region == "" {
		cfg.Email.SES.Region = "us-west-2"
	}
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "@hourly"
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 8
	}
	if cfg.Scheduler.SubscriberTimeoutMinutes == 0 {
		cfg.Scheduler.SubscriberTimeoutMinutes = 10
	}
	if cfg.Delivery.Mode == "" {
		cfg.Delivery.Mode = "inline"
	}
	if cfg.Delivery.StillProcessingIntervalHours == 0 {
		cfg.Delivery.StillProcessingIntervalHours = 7 * 24
	}
	if cfg.Delivery.StillProcessingMinAgeHours == 0 {
		cfg.Delivery.StillProcessingMinAgeHours = 24
	}
	if cfg.Delivery.DedupeWindowHours == 0 {
		cfg.Delivery.DedupeWindowHours = 20
	}
	if cfg.Notify.MaxAttempts == 0 {
		cfg.Notify.MaxAttempts = 3
	}
	if len(cfg.Notify.DelaysSeconds) == 0 {
		cfg.Notify.DelaysSeconds = []int{60, 300, 900}
	}
	if cfg.Notify.RetryPollSeconds == 0 {
		cfg.Notify.RetryPollSeconds = 15
	}
	if cfg.Gate.WeekdayZone == "" {
		cfg.Gate.WeekdayZone = "server"
	}
	if cfg.Gate.WindowHours == 0 {
		cfg.Gate.WindowHours = 1
	}
	if cfg.Retention.CleanupIntervalHours == 0 {
		cfg.Retention.CleanupIntervalHours = 6
	}
	if cfg.Retention.EmailLogDays == 0 {
		cfg.Retention.EmailLogDays = 180
	}
	if cfg.Retention.JobRunDays == 0 {
		cfg.Retention.JobRunDays = 90
	}
	if cfg.Retention.InsightDays == 0 {
		cfg.Retention.InsightDays = 365
	}
	if cfg.Retention.StaleJobRunMinutes == 0 {
		cfg.Retention.StaleJobRunMinutes = 120
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = map[string]TierConfig{
			"starter": {LookbackDays: 30, MinEmailIntervalDays: 7, InsightsPerEmail: 3},
			"growth":  {LookbackDays: 60, InsightsPerEmail: 3},
			"pro":     {LookbackDays: 90, InsightsPerEmail: 3},
		}
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URL"); v != "" {
		cfg.Google.RedirectURL = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Email.Resend.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.SES.Region = v
	}
	if v := os.Getenv("OPS_TOKEN"); v != "" {
		cfg.Server.OpsToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCHEDULER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_CONCURRENCY: %w", err)
		}
		cfg.Scheduler.Concurrency = n
	}

	return cfg, nil
}

// Validate rejects settings the worker cannot start with.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	switch cfg.Email.Provider {
	case "ses", "resend":
	default:
		return fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
	if cfg.Email.FromEmail == "" {
		return fmt.Errorf("email from address is required")
	}
	switch cfg.Delivery.Mode {
	case "inline", "deferred":
	default:
		return fmt.Errorf("unknown delivery mode %q", cfg.Delivery.Mode)
	}
	switch cfg.Gate.WeekdayZone {
	case "server", "subscriber":
	default:
		return fmt.Errorf("unknown weekday zone %q", cfg.Gate.WeekdayZone)
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
	}
	return nil
}
