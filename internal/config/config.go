// Package config centralizes how the teleops binaries read environment
// variables and exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents runtime configuration shared by the API, the annotation
// worker and the device CLI. Each binary only touches the sections it needs.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	S3       S3Config
	GCP      GCPConfig
	Pipeline PipelineConfig
	Export   ExportConfig
	Device   DeviceConfig
}

type AppConfig struct {
	Env       string `envconfig:"TELEOPS_APP_ENV" default:"dev"`
	Address   string `envconfig:"TELEOPS_ADDRESS" default:":8080"`
	LogLevel  string `envconfig:"TELEOPS_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"TELEOPS_LOG_FORMAT"`
}

type DBConfig struct {
	URL         string        `envconfig:"TELEOPS_DATABASE_URL"`
	MaxConns    int32         `envconfig:"TELEOPS_DB_MAX_CONNS" default:"8"`
	MaxIdleTime time.Duration `envconfig:"TELEOPS_DB_MAX_IDLE_TIME" default:"5m"`
	AutoMigrate bool          `envconfig:"TELEOPS_DB_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Addr     string `envconfig:"TELEOPS_REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"TELEOPS_REDIS_PASSWORD"`
	DB       int    `envconfig:"TELEOPS_REDIS_DB" default:"0"`
}

type S3Config struct {
	Endpoint  string `envconfig:"TELEOPS_S3_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"TELEOPS_S3_ACCESS_KEY"`
	SecretKey string `envconfig:"TELEOPS_S3_SECRET_KEY"`
	UseSSL    bool   `envconfig:"TELEOPS_S3_USE_SSL" default:"false"`
	Region    string `envconfig:"TELEOPS_S3_REGION" default:"us-east-1"`
	Bucket    string `envconfig:"TELEOPS_S3_BUCKET" default:"teleops-videos"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"TELEOPS_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"TELEOPS_GCP_CREDENTIALS_JSON"`
	CredentialsFile string `envconfig:"TELEOPS_GCP_CREDENTIALS_FILE"`
	VideoLocation   string `envconfig:"TELEOPS_GCP_VIDEO_LOCATION"`
}

// PipelineConfig tunes the server-side annotation queue.
type PipelineConfig struct {
	Concurrency      int           `envconfig:"TELEOPS_PIPELINE_CONCURRENCY" default:"2"`
	BatchSize        int           `envconfig:"TELEOPS_PIPELINE_BATCH_SIZE" default:"5"`
	MaxAttempts      int           `envconfig:"TELEOPS_PIPELINE_MAX_ATTEMPTS" default:"3"`
	PollInterval     time.Duration `envconfig:"TELEOPS_PIPELINE_POLL_INTERVAL" default:"5s"`
	ScheduleInterval time.Duration `envconfig:"TELEOPS_PIPELINE_SCHEDULE_INTERVAL" default:"1m"`
	SchedulerLockTTL time.Duration `envconfig:"TELEOPS_PIPELINE_SCHEDULER_LOCK_TTL" default:"50s"`
}

// ExportConfig names the optional downstream sinks for derived training
// entries. Empty values disable the sink.
type ExportConfig struct {
	PubSubTopic     string `envconfig:"TELEOPS_EXPORT_PUBSUB_TOPIC"`
	BigQueryDataset string `envconfig:"TELEOPS_EXPORT_BIGQUERY_DATASET"`
	BigQueryTable   string `envconfig:"TELEOPS_EXPORT_BIGQUERY_TABLE" default:"training_videos"`
}

// DeviceConfig covers the on-device upload queue driven by the CLI.
type DeviceConfig struct {
	DataDir     string        `envconfig:"TELEOPS_DEVICE_DATA_DIR" default:".teleops"`
	APIURL      string        `envconfig:"TELEOPS_DEVICE_API_URL" default:"http://localhost:8080"`
	HTTPTimeout time.Duration `envconfig:"TELEOPS_DEVICE_HTTP_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables falling back to the
// defaults declared in the struct tags.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would make the pipeline misbehave silently.
func (c *Config) Validate() error {
	if c.Pipeline.Concurrency <= 0 {
		return errors.New("TELEOPS_PIPELINE_CONCURRENCY must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("TELEOPS_PIPELINE_BATCH_SIZE must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return errors.New("TELEOPS_PIPELINE_MAX_ATTEMPTS must be positive")
	}
	if c.Pipeline.SchedulerLockTTL <= 0 || c.Pipeline.SchedulerLockTTL >= c.Pipeline.ScheduleInterval {
		return errors.New("TELEOPS_PIPELINE_SCHEDULER_LOCK_TTL must be positive and shorter than the schedule interval")
	}
	switch strings.ToLower(c.App.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.App.LogFormat)
	}
	return nil
}

// RequireDatabase is used by binaries that cannot run without Postgres.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DB.URL) == "" {
		return errors.New("TELEOPS_DATABASE_URL is required")
	}
	return nil
}

// IsProd reports whether the service runs in production.
func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, "prod")
}

// LogOutputFormat is the configured log format, or JSON in production and
// the console writer everywhere else when none is set.
func (a AppConfig) LogOutputFormat() string {
	if a.LogFormat != "" {
		return strings.ToLower(a.LogFormat)
	}
	if a.IsProd() {
		return "json"
	}
	return "console"
}
