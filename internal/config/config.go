package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Events    EventsConfig    `yaml:"events"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Reports   ReportsConfig   `yaml:"reports"`
	Cache     CacheConfig     `yaml:"cache"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string `yaml:"api_token"`
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

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection used for sweep locks and
// dispatch claims. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// TierThreshold maps a minimum score to a tier.
type TierThreshold struct {
	Tier     int `yaml:"tier"`
	MinScore int `yaml:"min_score"`
}

// ScoreWeights parameterise the engagement score. Each signal contributes
// weight*count up to its cap; the approval bonus halves every
// ApprovalHalfLifeDays and is dropped after ApprovalMaxAgeDays.
type ScoreWeights struct {
	EmailOpen            float64 `yaml:"email_open"`
	EmailOpenCap         float64 `yaml:"email_open_cap"`
	EmailClick           float64 `yaml:"email_click"`
	EmailClickCap        float64 `yaml:"email_click_cap"`
	ContentView          float64 `yaml:"content_view"`
	ContentViewCap       float64 `yaml:"content_view_cap"`
	ContentWindowDays    int     `yaml:"content_window_days"`
	Approval             float64 `yaml:"approval"`
	ApprovalHalfLifeDays float64 `yaml:"approval_half_life_days"`
	ApprovalMaxAgeDays   int     `yaml:"approval_max_age_days"`
}

// WithDefaultCaps fills every non-positive cap from DefaultScoreWeights so
// no contribution is left unbounded.
func (w ScoreWeights) WithDefaultCaps() ScoreWeights {
	def := DefaultScoreWeights()
	if w.EmailOpenCap <= 0 {
		w.EmailOpenCap = def.EmailOpenCap
	}
	if w.EmailClickCap <= 0 {
		w.EmailClickCap = def.EmailClickCap
	}
	if w.ContentViewCap <= 0 {
		w.ContentViewCap = def.ContentViewCap
	}
	return w
}

// ContentWindow returns the trailing window for content views.
func (w ScoreWeights) ContentWindow() time.Duration {
	return time.Duration(w.ContentWindowDays) * 24 * time.Hour
}

// LifecycleConfig is the engine's business configuration.
type LifecycleConfig struct {
	StageEngagementThresholds map[domain.PipelineStage]int    `yaml:"stage_engagement_thresholds"`
	TierThresholds            []TierThreshold                 `yaml:"tier_thresholds"`
	ScoreWeights              ScoreWeights                    `yaml:"score_weights"`
	TimelineRegistry          map[domain.PipelineStage]string `yaml:"timeline_registry"`
	MaxTimelineDays           int                             `yaml:"max_timeline_days"`
	TrialDays                 int                             `yaml:"trial_days"`
	StageDrivenTriggers       []string                        `yaml:"stage_driven_triggers"`
	EngagementChangeDelta     int                             `yaml:"engagement_change_delta"`
	MaxConflictRetries        int                             `yaml:"max_conflict_retries"`
}

// SortedTierThresholds returns the tier table, highest min score first.
func (c LifecycleConfig) SortedTierThresholds() []TierThreshold {
	out := append([]TierThreshold(nil), c.TierThresholds...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinScore > out[j].MinScore })
	return out
}

// IsStageDriven reports whether a transition trigger should attach the
// new stage's timeline.
func (c LifecycleConfig) IsStageDriven(trigger string) bool {
	for _, t := range c.StageDrivenTriggers {
		if t == trigger {
			return true
		}
	}
	return false
}

// TrialLength returns the trial duration.
func (c LifecycleConfig) TrialLength() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// SweepConfig controls the recurring timeline sweep.
type SweepConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`
	LockTTLSeconds         int `yaml:"lock_ttl_seconds"`
	Concurrency            int `yaml:"concurrency"`
	ClaimTTLSeconds        int `yaml:"claim_ttl_seconds"`
	RefreshIntervalMinutes int `yaml:"refresh_interval_minutes"`
}

// Interval returns the sweep interval as a duration
func (c SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LockTTL returns the sweep lock TTL.
func (c SweepConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ClaimTTL returns how long a dispatch claim is held.
func (c SweepConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// RefreshInterval returns the engagement refresh interval.
func (c SweepConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// EventsConfig selects the outbound event sinks. Logging is always on.
type EventsConfig struct {
	SQSQueueURL  string   `yaml:"sqs_queue_url"`
	SQSRegion    string   `yaml:"sqs_region"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TemplateConfig is a named liquid template for outbound messages.
type TemplateConfig struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// DeliveryConfig configures the outreach dispatcher.
type DeliveryConfig struct {
	SES             SESConfig                 `yaml:"ses"`
	SMSWebhookURL   string                    `yaml:"sms_webhook_url"`
	VoiceWebhookURL string                    `yaml:"voice_webhook_url"`
	WebhookToken    string                    `yaml:"webhook_token"`
	MaxRetries      int                       `yaml:"max_retries"`
	Templates       map[string]TemplateConfig `yaml:"templates"`
}

// ReportsConfig configures the S3 sweep report archive. An empty bucket
// disables archiving.
type ReportsConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	Prefix   string `yaml:"prefix"`
}

// TrackingConfig configures signed open/click links. An empty secret
// disables tracking.
type TrackingConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// Enabled reports whether tracking links should be issued.
func (t TrackingConfig) Enabled() bool { return t.Secret != "" && t.BaseURL != "" }

// CacheConfig sizes the in-process cache of timeline and dialog tree
// definitions.
type CacheConfig struct {
	DefinitionsSize       int `yaml:"definitions_size"`
	DefinitionsTTLSeconds int `yaml:"definitions_ttl_seconds"`
}

// DefinitionsTTL returns how long a cached definition is served.
func (c CacheConfig) DefinitionsTTL() time.Duration {
	return time.Duration(c.DefinitionsTTLSeconds) * time.Second
}

// DefaultLifecycle returns the engine defaults.
func DefaultLifecycle() LifecycleConfig {
	return LifecycleConfig{
		StageEngagementThresholds: map[domain.PipelineStage]int{
			domain.StageHook:       50,
			domain.StageEngagement: 80,
		},
		TierThresholds: []TierThreshold{
			{Tier: domain.TierPremium, MinScore: 80},
			{Tier: domain.TierEngaged, MinScore: 60},
			{Tier: domain.TierActive, MinScore: 40},
			{Tier: domain.TierPassive, MinScore: 0},
		},
		ScoreWeights:     DefaultScoreWeights(),
		TimelineRegistry: map[domain.PipelineStage]string{},
		MaxTimelineDays:  90,
		TrialDays:        90,
		StageDrivenTriggers: []string{
			domain.TriggerManual,
			domain.TriggerEngagementThreshold,
			domain.TriggerTrialAccepted,
			domain.TriggerConversion,
			domain.TriggerTimelineAction,
		},
		EngagementChangeDelta: 10,
		MaxConflictRetries:    3,
	}
}

// DefaultScoreWeights caps every contribution so the four parts sum to 100.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		EmailOpen:            2,
		EmailOpenCap:         20,
		EmailClick:           5,
		EmailClickCap:        30,
		ContentView:          4,
		ContentViewCap:       20,
		ContentWindowDays:    30,
		Approval:             30,
		ApprovalHalfLifeDays: 14,
		ApprovalMaxAgeDays:   90,
	}
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
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}

	def := DefaultLifecycle()
	lc := &cfg.Lifecycle
	if lc.StageEngagementThresholds == nil {
		lc.StageEngagementThresholds = def.StageEngagementThresholds
	}
	if len(lc.TierThresholds) == 0 {
		lc.TierThresholds = def.TierThresholds
	}
	if lc.ScoreWeights == (ScoreWeights{}) {
		lc.ScoreWeights = def.ScoreWeights
	}
	lc.ScoreWeights = lc.ScoreWeights.WithDefaultCaps()
	if lc.ScoreWeights.ContentWindowDays == 0 {
		lc.ScoreWeights.ContentWindowDays = def.ScoreWeights.ContentWindowDays
	}
	if lc.ScoreWeights.ApprovalHalfLifeDays == 0 {
		lc.ScoreWeights.ApprovalHalfLifeDays = def.ScoreWeights.ApprovalHalfLifeDays
	}
	if lc.TimelineRegistry == nil {
		lc.TimelineRegistry = def.TimelineRegistry
	}
	if lc.MaxTimelineDays == 0 {
		lc.MaxTimelineDays = def.MaxTimelineDays
	}
	if lc.TrialDays == 0 {
		lc.TrialDays = def.TrialDays
	}
	if lc.StageDrivenTriggers == nil {
		lc.StageDrivenTriggers = def.StageDrivenTriggers
	}
	if lc.EngagementChangeDelta == 0 {
		lc.EngagementChangeDelta = def.EngagementChangeDelta
	}
	if lc.MaxConflictRetries == 0 {
		lc.MaxConflictRetries = def.MaxConflictRetries
	}

	if cfg.Sweep.IntervalSeconds == 0 {
		cfg.Sweep.IntervalSeconds = 300
	}
	if cfg.Sweep.LockTTLSeconds == 0 {
		cfg.Sweep.LockTTLSeconds = 240
	}
	if cfg.Sweep.Concurrency == 0 {
		cfg.Sweep.Concurrency = 8
	}
	if cfg.Sweep.ClaimTTLSeconds == 0 {
		cfg.Sweep.ClaimTTLSeconds = 900
	}
	if cfg.Sweep.RefreshIntervalMinutes == 0 {
		cfg.Sweep.RefreshIntervalMinutes = 60
	}

	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "lifecycle-events"
	}
	if cfg.Delivery.SES.TimeoutSeconds == 0 {
		cfg.Delivery.SES.TimeoutSeconds = 30
	}
	if cfg.Delivery.SES.Region == "" {
		cfg.Delivery.SES.Region = "us-west-2"
	}
	if cfg.Delivery.MaxRetries == 0 {
		cfg.Delivery.MaxRetries = 3
	}
	if cfg.Reports.Prefix == "" {
		cfg.Reports.Prefix = "sweeps/"
	}
	if cfg.Cache.DefinitionsSize == 0 {
		cfg.Cache.DefinitionsSize = 256
	}
	if cfg.Cache.DefinitionsTTLSeconds == 0 {
		cfg.Cache.DefinitionsTTLSeconds = 60
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
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

	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Delivery.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Delivery.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Delivery.SES.Region = v
	}
	if v := os.Getenv("DELIVERY_WEBHOOK_TOKEN"); v != "" {
		cfg.Delivery.WebhookToken = v
	}
	if v := os.Getenv("EVENTS_SQS_QUEUE_URL"); v != "" {
		cfg.Events.SQSQueueURL = v
	}
	if v := os.Getenv("EVENTS_KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REPORTS_S3_BUCKET"); v != "" {
		cfg.Reports.S3Bucket = v
	}
	if v := os.Getenv("TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sweep.IntervalSeconds = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
