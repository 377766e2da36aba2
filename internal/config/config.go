package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g. REDACTOR_CACHE_ENABLED.
const EnvPrefix = "REDACTOR"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads the configuration file whenever it changes and passes every
// valid result to onChange. Invalid intermediate edits are reported to onError.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-redactor/")
	v.AddConfigPath("$HOME/.pii-redactor/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	setDefaults(v, GetDefaults())
	return v
}

// setDefaults registers every key so that environment variables can override
// settings that are absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)
	v.SetDefault("server.trust_proxy_headers", d.Server.TrustProxyHeaders)

	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.worker_count", d.Pipeline.WorkerCount)
	v.SetDefault("pipeline.progress_report", d.Pipeline.ProgressReport)
	v.SetDefault("pipeline.timeout", d.Pipeline.Timeout)

	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.format", d.Output.Format)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.max_connections", d.Cache.MaxConnections)
	v.SetDefault("cache.min_idle_conns", d.Cache.MinIdleConns)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.database_url", d.Store.DatabaseURL)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.conn_max_idle_time", d.Store.ConnMaxIdleTime)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_min", d.RateLimit.RequestsPerMin)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.idle_ttl", d.RateLimit.IdleTTL)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.username", d.WebSocket.Username)
	v.SetDefault("websocket.password", d.WebSocket.Password)
	v.SetDefault("websocket.broadcast_detections", d.WebSocket.BroadcastDetections)
	v.SetDefault("websocket.broadcast_requests", d.WebSocket.BroadcastRequests)
	v.SetDefault("websocket.broadcast_connections", d.WebSocket.BroadcastConnections)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("invalid server max batch size: %d", config.Server.MaxBatchSize)
	}

	if config.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("invalid pipeline batch size: %d", config.Pipeline.BatchSize)
	}

	if config.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("invalid pipeline worker count: %d", config.Pipeline.WorkerCount)
	}

	if config.Pipeline.ProgressReport <= 0 {
		return fmt.Errorf("invalid pipeline progress report interval: %d", config.Pipeline.ProgressReport)
	}

	switch config.Output.Format {
	case "", "csv", "parquet", "json":
	default:
		return fmt.Errorf("invalid output format: %s (must be csv, parquet, or json)", config.Output.Format)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but redis_url is empty")
	}

	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store enabled but database_url is empty")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}
