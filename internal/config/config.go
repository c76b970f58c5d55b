package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds gRPC server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AdvertiseAddr   string        `yaml:"advertise_addr"`
	MaxConnections  int           `yaml:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ShardConfig describes the shard copy this node hosts
type ShardConfig struct {
	ShardID     string `yaml:"shard_id"`
	Primary     bool   `yaml:"primary"`
	PrimaryTerm int64  `yaml:"primary_term"`
}

// RetentionConfig holds retention lease configuration
type RetentionConfig struct {
	LeaseTTL               time.Duration `yaml:"lease_ttl"`
	BackgroundSyncInterval time.Duration `yaml:"background_sync_interval"`
	FlushInterval          time.Duration `yaml:"flush_interval"`
	RejectStalePushes      bool          `yaml:"reject_stale_pushes"`
}

// Config represents the complete configuration for the retention node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Shard       ShardConfig       `yaml:"shard"`
	Retention   RetentionConfig   `yaml:"retention"`
	Storage     StorageConfig     `yaml:"storage"`
	Replication ReplicationConfig `yaml:"replication"`
	Gossip      GossipConfig      `yaml:"gossip"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds commit storage configuration
type StorageConfig struct {
	DataDir      string  `yaml:"data_dir"`
	CommitDir    string  `yaml:"commit_dir"`
	Engine       string  `yaml:"engine"`
	KeepCommits  int     `yaml:"keep_commits"`
	SyncWrites   bool    `yaml:"sync_writes"`
	MaxDiskUsage float64 `yaml:"max_disk_usage"`
}

// ReplicationConfig holds lease replication configuration
type ReplicationConfig struct {
	Peers         []string      `yaml:"peers"`
	PrimaryAddr   string        `yaml:"primary_addr"`
	SyncTimeout   time.Duration `yaml:"sync_timeout"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	FetchRetries  int           `yaml:"fetch_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = uuid.NewString()
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50053
	}
	if cfg.Server.AdvertiseAddr == "" {
		cfg.Server.AdvertiseAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Shard.PrimaryTerm == 0 {
		cfg.Shard.PrimaryTerm = 1
	}

	if cfg.Retention.LeaseTTL == 0 {
		cfg.Retention.LeaseTTL = 12 * time.Hour
	}
	if cfg.Retention.BackgroundSyncInterval == 0 {
		cfg.Retention.BackgroundSyncInterval = 30 * time.Second
	}
	if cfg.Retention.FlushInterval == 0 {
		cfg.Retention.FlushInterval = time.Minute
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb"
	}
	if cfg.Storage.CommitDir == "" {
		cfg.Storage.CommitDir = cfg.Storage.DataDir + "/commits"
	}
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "file"
	}
	if cfg.Storage.KeepCommits == 0 {
		cfg.Storage.KeepCommits = 2
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.95
	}

	if cfg.Replication.SyncTimeout == 0 {
		cfg.Replication.SyncTimeout = 5 * time.Second
	}
	if cfg.Replication.Workers == 0 {
		cfg.Replication.Workers = 4
	}
	if cfg.Replication.QueueSize == 0 {
		cfg.Replication.QueueSize = 256
	}
	if cfg.Replication.FetchRetries == 0 {
		cfg.Replication.FetchRetries = 5
	}
	if cfg.Replication.RetryInterval == 0 {
		cfg.Replication.RetryInterval = 2 * time.Second
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9092
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Shard.ShardID == "" {
		return fmt.Errorf("shard.shard_id is required")
	}
	if c.Shard.PrimaryTerm < 1 {
		return fmt.Errorf("shard.primary_term must be at least 1")
	}
	if c.Retention.LeaseTTL <= 0 {
		return fmt.Errorf("retention.lease_ttl must be positive")
	}
	if c.Storage.Engine != "file" && c.Storage.Engine != "badger" {
		return fmt.Errorf("storage.engine must be one of file, badger")
	}
	if c.Storage.KeepCommits < 1 {
		return fmt.Errorf("storage.keep_commits must be at least 1")
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}
	if c.Replication.Workers < 1 {
		return fmt.Errorf("replication.workers must be at least 1")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	return nil
}
