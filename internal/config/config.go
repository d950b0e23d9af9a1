// Package config defines the application configuration and its loader.
// Values come from an optional YAML file and from environment variables
// with the PROCSERVE_ prefix; environment variables win.
package config

import "time"

// Config holds all application configuration, grouped by concern. The
// same struct serves both the API server and the worker binary.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"    validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// SyncDeadline bounds how long a synchronous execution request
	// blocks before the response degrades to the async status document.
	SyncDeadline time.Duration `mapstructure:"sync_deadline" validate:"required,gt=0"`

	// PollInterval is the job store polling cadence for sync requests.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
}

// RedisConfig contains the connection settings for the job store,
// results cache, and task queue.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// CacheConfig contains the retention settings for stored state.
type CacheConfig struct {
	ResultTTL  time.Duration `mapstructure:"result_ttl"  validate:"required,gt=0"`
	FailureTTL time.Duration `mapstructure:"failure_ttl" validate:"required,gt=0"`
	MarkerTTL  time.Duration `mapstructure:"marker_ttl"  validate:"required,gt=0"`
	JobTTL     time.Duration `mapstructure:"job_ttl"     validate:"required,gt=0"`
}

// DispatchConfig tunes task enqueueing and its retry policy.
type DispatchConfig struct {
	Queue      string        `mapstructure:"queue"       validate:"required"`
	MaxRetries uint64        `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"  validate:"required,gt=0"`
	MaxDelay   time.Duration `mapstructure:"max_delay"   validate:"required,gt=0"`
}

// WorkerConfig contains the worker pool settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"required,gt=0"`
}
