package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultMaxNodes         = 24
	DefaultMatchMode        = "shared"
	DefaultRetryBackoff     = 200 * time.Millisecond
	DefaultProgressInterval = 5 * time.Second

	DefaultServerPort     = 8080
	DefaultServerMode     = "release"
	DefaultMaxRecords     = 10000
	DefaultRunsPerSecond  = 2.0
	DefaultRunBurst       = 4
	DefaultServerTimeout  = 5 * time.Minute
	DefaultShutdownPeriod = 30 * time.Second

	DefaultDBHost         = "localhost"
	DefaultDBPort         = 5432
	DefaultDBName         = "subsim"
	DefaultDBMaxOpenConns = 10

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "subsim:"
	DefaultResultTTL      = 24 * time.Hour
	DefaultCompletedTTL   = 24 * time.Hour

	DefaultKafkaBroker         = "localhost:9092"
	DefaultKafkaGroupID        = "subsim-workers"
	DefaultRequestTopic        = "subsim.run.requested"
	DefaultCompletedTopic      = "subsim.run.completed"
	DefaultDeadLetterTopic     = "subsim.run.dlq"
	DefaultKafkaMaxRetries     = 3
	DefaultKafkaRetryBackoff   = time.Second
	DefaultMinIOEndpoint       = "localhost:9000"
	DefaultMinIOBucket         = "subsim"
	DefaultNeo4jURI            = "bolt://localhost:7687"
	DefaultNeo4jDatabase       = "neo4j"
	DefaultNeo4jConnectTimeout = 10 * time.Second

	DefaultMetricsNamespace = "subsim"
	DefaultMetricsPort      = 9090
	DefaultInboxPattern     = "*.tsv"
	DefaultInboxDebounce    = 500 * time.Millisecond

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Values
// already set (non-zero) are left unchanged so explicit configuration wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if cfg.Engine.MaxNodes == 0 {
		cfg.Engine.MaxNodes = DefaultMaxNodes
	}
	if cfg.Engine.MatchMode == "" {
		cfg.Engine.MatchMode = DefaultMatchMode
	}
	if cfg.Engine.RetryBackoff == 0 {
		cfg.Engine.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Engine.ProgressInterval == 0 {
		cfg.Engine.ProgressInterval = DefaultProgressInterval
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownPeriod
	}
	if cfg.Server.MaxRecords == 0 {
		cfg.Server.MaxRecords = DefaultMaxRecords
	}
	if cfg.Server.RunsPerSecond == 0 {
		cfg.Server.RunsPerSecond = DefaultRunsPerSecond
	}
	if cfg.Server.RunBurst == 0 {
		cfg.Server.RunBurst = DefaultRunBurst
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultDBMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns / 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.ResultTTL == 0 {
		cfg.Redis.ResultTTL = DefaultResultTTL
	}
	if cfg.Redis.CompletedTTL == 0 {
		cfg.Redis.CompletedTTL = DefaultCompletedTTL
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultRequestTopic
	}
	if cfg.Kafka.CompletedTopic == "" {
		cfg.Kafka.CompletedTopic = DefaultCompletedTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultDeadLetterTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultKafkaMaxRetries
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = DefaultKafkaRetryBackoff
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Neo4j ─────────────────────────────────────────────────────────────────
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = DefaultNeo4jDatabase
	}
	if cfg.Neo4j.ConnectionTimeout == 0 {
		cfg.Neo4j.ConnectionTimeout = DefaultNeo4jConnectTimeout
	}

	// ── Monitoring / inbox ────────────────────────────────────────────────────
	if cfg.Monitoring.Namespace == "" {
		cfg.Monitoring.Namespace = DefaultMetricsNamespace
	}
	if cfg.Monitoring.MetricsPort == 0 {
		cfg.Monitoring.MetricsPort = DefaultMetricsPort
	}
	if cfg.Inbox.Pattern == "" {
		cfg.Inbox.Pattern = DefaultInboxPattern
	}
	if cfg.Inbox.Debounce <= 0 {
		cfg.Inbox.Debounce = DefaultInboxDebounce
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Default returns a Config populated entirely with defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
