package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "PROCSERVE"

// Load reads configuration from an optional config.yaml in the working
// directory and from PROCSERVE_* environment variables, applies
// defaults, and validates the result. Environment variables take
// precedence over file values.
func Load() (*Config, error) {
	return load("")
}

// LoadFile behaves like Load but reads the named config file instead of
// searching the working directory.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, the environment can carry
			// everything.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys to Unmarshal,
	// so bind each known key explicitly.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"server.sync_deadline",
		"server.poll_interval",
		"redis.url",
		"cache.result_ttl",
		"cache.failure_ttl",
		"cache.marker_ttl",
		"cache.job_ttl",
		"dispatch.queue",
		"dispatch.max_retries",
		"dispatch.base_delay",
		"dispatch.max_delay",
		"worker.concurrency",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.sync_deadline", 30*time.Second)
	v.SetDefault("server.poll_interval", 250*time.Millisecond)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("cache.result_ttl", 7*24*time.Hour)
	v.SetDefault("cache.failure_ttl", time.Minute)
	v.SetDefault("cache.marker_ttl", 5*time.Minute)
	v.SetDefault("cache.job_ttl", 24*time.Hour)

	v.SetDefault("dispatch.queue", "default")
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.base_delay", 250*time.Millisecond)
	v.SetDefault("dispatch.max_delay", 5*time.Second)

	v.SetDefault("worker.concurrency", 1)
}
