// Package config defines all configuration structures for subsim.  No I/O or
// parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// EngineConfig holds the similarity engine tunables.
type EngineConfig struct {
	// MaxNodes is the largest molecular graph (explicit hydrogens included)
	// that will be enumerated.  Larger graphs are skipped as too large.
	MaxNodes int `mapstructure:"max_nodes"`
	// MaxSubgraphSize bounds the subgraph size k.  0 means up to MaxNodes.
	MaxSubgraphSize int `mapstructure:"max_subgraph_size"`
	// HeavyAtomsOnly disables explicit hydrogen nodes.
	HeavyAtomsOnly bool `mapstructure:"heavy_atoms_only"`
	// MatchMode is "shared" or "contains".
	MatchMode string `mapstructure:"match_mode"`
	// Workers is the worker pool size.  0 means runtime.NumCPU().
	Workers          int           `mapstructure:"workers"`
	ChunkRetries     int           `mapstructure:"chunk_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	LibraryPath      string        `mapstructure:"library_path"`
}

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRecords      int           `mapstructure:"max_records"`
	RunsPerSecond   float64       `mapstructure:"runs_per_second"`
	RunBurst        int           `mapstructure:"run_burst"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters for the result cache.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
	CompletedTTL time.Duration `mapstructure:"completed_ttl"`
}

// KafkaConfig holds the run-request consumer and completion producer settings.
type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	RequestTopic    string        `mapstructure:"request_topic"`
	CompletedTopic  string        `mapstructure:"completed_topic"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// MinIOConfig holds S3-compatible object storage parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Neo4jConfig holds the similarity graph export connection.
type Neo4jConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
}

// MonitoringConfig holds Prometheus settings.
type MonitoringConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Namespace      string `mapstructure:"namespace"`
	MetricsPort    int    `mapstructure:"metrics_port"`
}

// InboxConfig configures the directory watcher.
type InboxConfig struct {
	Dir       string        `mapstructure:"dir"`
	OutputDir string        `mapstructure:"output_dir"`
	Pattern   string        `mapstructure:"pattern"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Engine     EngineConfig      `mapstructure:"engine"`
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	MinIO      MinIOConfig       `mapstructure:"minio"`
	Neo4j      Neo4jConfig       `mapstructure:"neo4j"`
	Monitoring MonitoringConfig  `mapstructure:"monitoring"`
	Inbox      InboxConfig       `mapstructure:"inbox"`
	Log        logging.LogConfig `mapstructure:"log"`
}

// MaxNodesCeiling is the hard limit on Engine.MaxNodes; subgraphs are
// represented as 64-bit node masks.
const MaxNodesCeiling = 64

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config.  The
// first violation is returned.
func (c *Config) Validate() error {
	// Engine
	if c.Engine.MaxNodes < 2 || c.Engine.MaxNodes > MaxNodesCeiling {
		return fmt.Errorf("config: engine.max_nodes %d is out of range [2, %d]", c.Engine.MaxNodes, MaxNodesCeiling)
	}
	if c.Engine.MaxSubgraphSize < 0 {
		return fmt.Errorf("config: engine.max_subgraph_size must be ≥ 0, got %d", c.Engine.MaxSubgraphSize)
	}
	if c.Engine.MaxSubgraphSize == 1 {
		return fmt.Errorf("config: engine.max_subgraph_size must be 0 or ≥ 2, got 1")
	}
	switch c.Engine.MatchMode {
	case "shared", "contains":
	default:
		return fmt.Errorf("config: engine.match_mode %q is invalid; expected shared|contains", c.Engine.MatchMode)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("config: engine.workers must be ≥ 0, got %d", c.Engine.Workers)
	}
	if c.Engine.ChunkRetries < 0 {
		return fmt.Errorf("config: engine.chunk_retries must be ≥ 0, got %d", c.Engine.ChunkRetries)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Database
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// MinIO
	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
	}

	// Neo4j
	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("config: neo4j.uri is required")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
