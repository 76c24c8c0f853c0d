// Package config handles configuration loading for the RMC relay daemon.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and admin keys to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS, base path, admin key)
//   - storage: Ledger backend selection (memory, mongodb, kv, redis)
//   - channels: Channel profiles established at startup
//   - retry: Redispatch policy for unacknowledged messages
//   - discovery: How remote relay endpoints are resolved (static or dns)
//   - logging: Log level and console formatting
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  adminKey: ${RMC_ADMIN_KEY}
//
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: rmc
//
//	channels:
//	  - id: orders-eu
//	    localPort: orders
//	    remotePort: orders
//	    remoteChannelId: orders-eu-peer
//	    pattern: request-reply
//
//	discovery:
//	  mode: static
//	  endpoints:
//	    orders-eu: https://relay.peer.example.com/v1/deliver
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Channels  []ChannelConfig `yaml:"channels"`
	Retry     RetryConfig     `yaml:"retry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"basePath"`
	AdminKey string `yaml:"adminKey"` // API key for admin endpoints
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// StorageConfig holds ledger backend settings
type StorageConfig struct {
	// Type selects the backend: "memory", "mongodb", "kv", or "redis"
	Type    string        `yaml:"type"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
	KV      KVConfig      `yaml:"kv"`
	Redis   RedisConfig   `yaml:"redis"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// KVConfig holds embedded key-value store settings
type KVConfig struct {
	// Dir is the directory the database files live in
	Dir string `yaml:"dir"`
	// Name is the database name within Dir
	Name string `yaml:"name"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChannelConfig is one channel profile established at startup
type ChannelConfig struct {
	ID              string `yaml:"id"`
	LocalPort       string `yaml:"localPort"`
	RemotePort      string `yaml:"remotePort"`
	RemoteChannelID string `yaml:"remoteChannelId"`
	SequenceStart   uint64 `yaml:"sequenceStart"`
	Pattern         string `yaml:"pattern"`
	Compress        bool   `yaml:"compress"`
}

// RetryConfig holds redispatch policy settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Interval    time.Duration `yaml:"interval"`
	Multiplier  float64       `yaml:"multiplier"`
	// SweepInterval is how often the dispatcher checks for due packets
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// DiscoveryConfig holds endpoint resolution settings
type DiscoveryConfig struct {
	// Mode selects the resolver: "static" or "dns"
	Mode string `yaml:"mode"`

	// Endpoints maps channel ids to relay URLs (static mode)
	Endpoints map[string]string `yaml:"endpoints"`

	// Domains maps channel ids to peer domains (dns mode)
	Domains map[string]string `yaml:"domains"`
	// DefaultDomain is used for channels absent from Domains (dns mode)
	DefaultDomain string `yaml:"defaultDomain"`
	// DNSServer overrides the system resolver, "ip:port" format
	DNSServer string `yaml:"dnsServer"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	// Level is one of zerolog's level strings ("debug", "info", ...)
	Level string `yaml:"level"`
	// Pretty switches from JSON to human-readable console output
	Pretty bool `yaml:"pretty"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "rmc"
	}
	if c.Storage.KV.Name == "" {
		c.Storage.KV.Name = "ledger"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = 5 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	if c.Retry.SweepInterval == 0 {
		c.Retry.SweepInterval = time.Second
	}
	if c.Discovery.Mode == "" {
		c.Discovery.Mode = "static"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory":
		// No connection settings required
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when type is 'mongodb'")
		}
	case "kv":
		if c.Storage.KV.Dir == "" {
			return fmt.Errorf("storage.kv.dir is required when type is 'kv'")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required when type is 'redis'")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory', 'mongodb', 'kv', or 'redis', got '%s'", c.Storage.Type)
	}

	switch c.Discovery.Mode {
	case "static", "dns":
		// Valid modes
	default:
		return fmt.Errorf("discovery.mode must be 'static' or 'dns', got '%s'", c.Discovery.Mode)
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channels[%d].id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channels[%d].id '%s' is duplicated", i, ch.ID)
		}
		seen[ch.ID] = true
		if ch.SequenceStart > 1 {
			return fmt.Errorf("channels[%d].sequenceStart must be 0 or 1", i)
		}
	}

	return nil
}
