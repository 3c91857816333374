package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Backend names accepted by the storage, queue, files and cache switches
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendLocal    = "local"
	BackendRabbitMQ = "rabbitmq"
	BackendS3       = "s3"
	BackendRedis    = "redis"
)

// Config represents the entire application configuration
type Config struct {
	Env           string         `json:"env"`
	Port          int            `json:"port"`
	AppName       string         `json:"app_name"`
	PublicBaseURL string         `json:"public_base_url"`
	Backends      BackendsConfig `json:"backends"`
	MongoDB       MongoDBConfig  `json:"mongodb"`
	Redis         RedisConfig    `json:"redis"`
	RabbitMQ      RabbitMQConfig `json:"rabbitmq"`
	S3            S3Config       `json:"s3"`
	Jobs          JobsConfig     `json:"jobs"`
	Poller        PollerConfig   `json:"poller"`
	Logging       LoggingConfig  `json:"logging"`
	CORS          CORSConfig     `json:"cors"`
}

// BackendsConfig selects the implementation used for each infrastructure concern
type BackendsConfig struct {
	Storage string `json:"storage"`
	Queue   string `json:"queue"`
	Files   string `json:"files"`
	Cache   string `json:"cache"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	// TTLSeconds bounds how long immutable job data stays cached
	TTLSeconds int `json:"ttl_seconds"`
}

// TTL returns the cache expiry as a duration
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// RabbitMQConfig contains broker connection and topology settings
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	PrefetchCount int    `json:"prefetch_count"`
}

// S3Config contains the bucket uploaded CSV files are stored in
type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
}

// JobsConfig tunes how validation jobs are executed
type JobsConfig struct {
	Validator       string `json:"validator"`
	BatchSize       int    `json:"batch_size"`
	StepDelayMS     int    `json:"step_delay_ms"` // negative disables the pause
	Workers         int    `json:"workers"`
	Concurrency     int    `json:"concurrency"` // parallel validator calls per batch
	QueueSize       int    `json:"queue_size"`
	MaxUploadBytes  int64  `json:"max_upload_bytes"`
	StaleAfterMin   int    `json:"stale_after_min"`
	QueuedAfterMin  int    `json:"queued_after_min"`
	ResultsPageSize int    `json:"results_page_size"`
}

// StepDelay is the pause between two validated batches
func (j JobsConfig) StepDelay() time.Duration {
	if j.StepDelayMS < 0 {
		return 0
	}
	return time.Duration(j.StepDelayMS) * time.Millisecond
}

// StaleAfter is how long a job may stay processing before it is reaped
func (j JobsConfig) StaleAfter() time.Duration {
	return time.Duration(j.StaleAfterMin) * time.Minute
}

// QueuedAfter is how long a job may wait in the queue before it is cancelled
func (j JobsConfig) QueuedAfter() time.Duration {
	return time.Duration(j.QueuedAfterMin) * time.Minute
}

// PollerConfig contains client-side polling settings
type PollerConfig struct {
	IntervalMS int `json:"interval_ms"`
}

// Interval is the fixed cadence between two job fetches
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"` // Optional, seconds that preflight requests can be cached
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig reads configuration from the specified file path, applies
// secrets from the environment (and a .env file when present) and fills
// defaults.
func LoadConfig(filePath string) (*Config, error) {
	// Read the configuration file
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using process environment")
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration that runs entirely in memory
func Default() *Config {
	config := Config{}
	_ = config.Validate()
	return &config
}

// applyEnv overrides secrets with environment variables when they are set
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"MONGODB_URI":           &c.MongoDB.URI,
		"MONGODB_PASSWORD":      &c.MongoDB.Password,
		"REDIS_PASSWORD":        &c.Redis.Password,
		"RABBITMQ_PASSWORD":     &c.RabbitMQ.Password,
		"AWS_ACCESS_KEY_ID":     &c.S3.AccessKey,
		"AWS_SECRET_ACCESS_KEY": &c.S3.SecretKey,
	}
	for key, target := range overrides {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*target = value
		}
	}
}

// Validate fills defaults and rejects unknown backend names
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AppName == "" {
		c.AppName = "deliverly"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}

	if c.Backends.Storage == "" {
		c.Backends.Storage = BackendMemory
	}
	if c.Backends.Queue == "" {
		c.Backends.Queue = BackendLocal
	}
	if c.Backends.Files == "" {
		c.Backends.Files = BackendMemory
	}
	if c.Backends.Cache == "" {
		c.Backends.Cache = BackendMemory
	}

	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"storage", c.Backends.Storage, []string{BackendMemory, BackendMongo}},
		{"queue", c.Backends.Queue, []string{BackendLocal, BackendRabbitMQ}},
		{"files", c.Backends.Files, []string{BackendMemory, BackendS3}},
		{"cache", c.Backends.Cache, []string{BackendMemory, BackendRedis}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("invalid %s backend %q, expected one of %v", check.name, check.value, check.allowed)
		}
	}

	// API and workers only share jobs through mongo and s3
	if c.Backends.Queue == BackendRabbitMQ && (c.Backends.Storage != BackendMongo || c.Backends.Files != BackendS3) {
		return fmt.Errorf("queue backend %q requires storage %q and files %q, got storage %q and files %q",
			BackendRabbitMQ, BackendMongo, BackendS3, c.Backends.Storage, c.Backends.Files)
	}

	if c.Jobs.Validator == "" {
		c.Jobs.Validator = "rules"
	}
	if c.Jobs.BatchSize <= 0 {
		c.Jobs.BatchSize = 25
	}
	if c.Jobs.StepDelayMS == 0 {
		c.Jobs.StepDelayMS = 250
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.Concurrency <= 0 {
		c.Jobs.Concurrency = 4
	}
	if c.Jobs.QueueSize <= 0 {
		c.Jobs.QueueSize = 100
	}
	if c.Jobs.MaxUploadBytes <= 0 {
		c.Jobs.MaxUploadBytes = 10 << 20
	}
	if c.Jobs.StaleAfterMin <= 0 {
		c.Jobs.StaleAfterMin = 30
	}
	if c.Jobs.QueuedAfterMin <= 0 {
		c.Jobs.QueuedAfterMin = 24 * 60
	}
	if c.Jobs.ResultsPageSize <= 0 {
		c.Jobs.ResultsPageSize = 25
	}

	if c.Poller.IntervalMS <= 0 {
		c.Poller.IntervalMS = 900
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = c.AppName
	}
	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 3600
	}
	if c.RabbitMQ.ExchangeName == "" {
		c.RabbitMQ.ExchangeName = "deliverly"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "validation-jobs"
	}
	if c.MongoDB.DB == "" {
		c.MongoDB.DB = "deliverly"
	}
	if c.S3.Prefix == "" {
		c.S3.Prefix = "uploads"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
