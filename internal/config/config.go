package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "BEACON"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "beacon.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 30
	defaultDispatchQueueSize  = 1000
	defaultStreamQueueSize    = 100
	defaultMaxConnsPerUser    = 10
	defaultHeartbeatSeconds   = 10
	defaultCleanupIntervalMin = 30
)

// AppConfig captures runtime configuration for the notification service.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	AuthSigningSecret     string
	TokenTTL              time.Duration
	DispatchQueueSize     int
	StreamQueueSize       int
	MaxConnectionsPerUser int
	HeartbeatInterval     time.Duration
	CleanupInterval       time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("events.dispatch_queue_size", defaultDispatchQueueSize)
	configViper.SetDefault("events.stream_queue_size", defaultStreamQueueSize)
	configViper.SetDefault("events.max_connections_per_user", defaultMaxConnsPerUser)
	configViper.SetDefault("events.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("events.cleanup_interval_minutes", defaultCleanupIntervalMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		AuthSigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DispatchQueueSize:     configViper.GetInt("events.dispatch_queue_size"),
		StreamQueueSize:       configViper.GetInt("events.stream_queue_size"),
		MaxConnectionsPerUser: configViper.GetInt("events.max_connections_per_user"),
		HeartbeatInterval:     time.Duration(configViper.GetInt("events.heartbeat_seconds")) * time.Second,
		CleanupInterval:       time.Duration(configViper.GetInt("events.cleanup_interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.DispatchQueueSize <= 0 {
		return fmt.Errorf("events.dispatch_queue_size must be positive")
	}
	if c.StreamQueueSize <= 0 {
		return fmt.Errorf("events.stream_queue_size must be positive")
	}
	if c.MaxConnectionsPerUser <= 0 {
		return fmt.Errorf("events.max_connections_per_user must be positive")
	}
	return nil
}
