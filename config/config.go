// Package config loads daemon configuration from file and environment.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Transport TransportConfig
	Router    RouterConfig
	Mongo     MongoConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr     string
	Path     string
	Capacity int
}

type TransportConfig struct {
	PingInterval   int // seconds
	PongTimeout    int // seconds
	WriteTimeout   int // seconds
	MaxMessageSize int // bytes
	SendBuffer     int
}

type RouterConfig struct {
	HandlerTimeout int // milliseconds
	DefaultPolicy  string
	IncludeSelf    bool
	PersistEvents  []string
}

type MongoConfig struct {
	Enabled          bool
	URI              string
	Database         string
	Collection       string
	OperationTimeout int // seconds
	MinPoolSize      uint64
	MaxPoolSize      uint64
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level string
}

// Load reads roomcast.yaml from path (or the working directory), applies
// ROOMCAST_* environment overrides and validates the result. A missing
// config file is not an error; defaults apply.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("roomcast")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix("ROOMCAST")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.capacity", 10000)

	v.SetDefault("transport.pinginterval", 25)
	v.SetDefault("transport.pongtimeout", 60)
	v.SetDefault("transport.writetimeout", 10)
	v.SetDefault("transport.maxmessagesize", 1<<20)
	v.SetDefault("transport.sendbuffer", 256)

	v.SetDefault("router.handlertimeout", 5000)
	v.SetDefault("router.defaultpolicy", "broadcast")
	v.SetDefault("router.includeself", false)
	v.SetDefault("router.persistevents", []string{"chat-message"})

	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "roomcast")
	v.SetDefault("mongo.collection", "messages")
	v.SetDefault("mongo.operationtimeout", 5)
	v.SetDefault("mongo.minpoolsize", 2)
	v.SetDefault("mongo.maxpoolsize", 16)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
}

// Validate rejects configurations the daemon cannot run with.
func (c *AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.Capacity < 0 {
		return fmt.Errorf("server.capacity must not be negative")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport.pinginterval must be positive")
	}
	if c.Transport.PongTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.pongtimeout must exceed transport.pinginterval")
	}
	if c.Router.HandlerTimeout <= 0 {
		return fmt.Errorf("router.handlertimeout must be positive")
	}
	switch c.Router.DefaultPolicy {
	case "broadcast", "drop":
	default:
		return fmt.Errorf("router.defaultpolicy must be broadcast or drop, got %q", c.Router.DefaultPolicy)
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri must be set when mongo is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}
	return nil
}
