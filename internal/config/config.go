package config

import (
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Queue    QueueConfig    `yaml:"queue"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Blob     BlobConfig     `yaml:"blob"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"   env:"SERVER_MAX_BODY_BYTES"   env-default:"10485760"`
	// WebhookRateLimit is requests per minute per caller; 0 disables limiting.
	WebhookRateLimit int `yaml:"webhook_rate_limit" env:"SERVER_WEBHOOK_RATE_LIMIT" env-default:"600"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	ApplicationName string        `yaml:"application_name"   env:"DATABASE_APPLICATION_NAME"   env-default:"taskflow"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// QueueConfig controls the result queue consumer.
type QueueConfig struct {
	// MaxRetries is the number of retries after the first failed attempt; a
	// row is dead-lettered on attempt MaxRetries+1.
	MaxRetries   int           `yaml:"max_retries"   env:"QUEUE_MAX_RETRIES"   env-default:"5"`
	Workers      int           `yaml:"workers"       env:"QUEUE_WORKERS"       env-default:"4"`
	PollInterval time.Duration `yaml:"poll_interval" env:"QUEUE_POLL_INTERVAL" env-default:"2s"`
	// RetryAfter is the minimum delay before a failed row is claimed again.
	RetryAfter   time.Duration `yaml:"retry_after"   env:"QUEUE_RETRY_AFTER"   env-default:"5s"`
	ClaimTimeout time.Duration `yaml:"claim_timeout" env:"QUEUE_CLAIM_TIMEOUT" env-default:"30s"`
}

// SweepConfig controls the one-shot expiry sweeper.
type SweepConfig struct {
	BatchSize         int  `yaml:"batch_size"         env:"SWEEP_BATCH_SIZE"         env-default:"500"`
	CheckRequirements bool `yaml:"check_requirements" env:"SWEEP_CHECK_REQUIREMENTS" env-default:"true"`
}

// AuthConfig holds submitter token settings.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"    env:"AUTH_ENABLED"    env-default:"false"`
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	JWTIssuer string        `yaml:"jwt_issuer" env:"AUTH_JWT_ISSUER" env-default:"taskflow"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"AUTH_TOKEN_TTL"  env-default:"8760h"`
}

// RedisConfig configures queue wakeup notifications. An empty Addr disables them.
type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"REDIS_DB"       env-default:"0"`
	Channel  string `yaml:"channel"  env:"REDIS_CHANNEL"  env-default:"taskflow:results"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// KafkaConfig configures task event streaming. Empty Brokers disables it.
type KafkaConfig struct {
	BrokersRaw   string        `yaml:"brokers"       env:"KAFKA_BROKERS"`
	EventsTopic  string        `yaml:"events_topic"  env:"KAFKA_EVENTS_TOPIC"  env-default:"taskflow.task-events"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
}

// Brokers splits the comma-separated broker list.
func (c KafkaConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.BrokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Enabled reports whether at least one broker is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers()) > 0 }

// WorkflowConfig points at the workflow engine. An empty AdvanceURL logs advances instead.
//
// Advances that were lost to a crash or failed are retried by the consumer
// every RetryInterval and by the sweeper, once they are RetryAfter old and
// while they have fewer than MaxAttempts attempts.
type WorkflowConfig struct {
	AdvanceURL    string        `yaml:"advance_url"    env:"WORKFLOW_ADVANCE_URL"`
	Timeout       time.Duration `yaml:"timeout"        env:"WORKFLOW_TIMEOUT"        env-default:"5s"`
	RetryAfter    time.Duration `yaml:"retry_after"    env:"WORKFLOW_RETRY_AFTER"    env-default:"1m"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"WORKFLOW_RETRY_INTERVAL" env-default:"30s"`
	RetryBatch    int           `yaml:"retry_batch"    env:"WORKFLOW_RETRY_BATCH"    env-default:"100"`
	MaxAttempts   int           `yaml:"max_attempts"   env:"WORKFLOW_MAX_ATTEMPTS"   env-default:"5"`
}

// BlobConfig configures the filesystem blob store.
type BlobConfig struct {
	Root string `yaml:"root" env:"BLOB_ROOT" env-default:"./data/blobs"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Addr    string `yaml:"addr"    env:"METRICS_ADDR"    env-default:":9091"`
}
