package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxNodes, cfg.Engine.MaxNodes)
	assert.Equal(t, "shared", cfg.Engine.MatchMode)
	assert.False(t, cfg.Engine.HeavyAtomsOnly)
	assert.Equal(t, DefaultDBMaxOpenConns/2, cfg.Database.MaxIdleConns)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.MaxNodes = 10
	cfg.Engine.MatchMode = "contains"
	cfg.Server.Port = 1234
	cfg.Redis.KeyPrefix = "custom:"

	ApplyDefaults(cfg)

	assert.Equal(t, 10, cfg.Engine.MaxNodes)
	assert.Equal(t, "contains", cfg.Engine.MatchMode)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, "custom:", cfg.Redis.KeyPrefix)
	assert.Equal(t, DefaultDBName, cfg.Database.DBName)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"max nodes too small", func(c *Config) { c.Engine.MaxNodes = 1 }, "engine.max_nodes"},
		{"max nodes above ceiling", func(c *Config) { c.Engine.MaxNodes = 65 }, "engine.max_nodes"},
		{"subgraph size one", func(c *Config) { c.Engine.MaxSubgraphSize = 1 }, "max_subgraph_size"},
		{"negative subgraph size", func(c *Config) { c.Engine.MaxSubgraphSize = -2 }, "max_subgraph_size"},
		{"bad match mode", func(c *Config) { c.Engine.MatchMode = "fuzzy" }, "match_mode"},
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }, "engine.workers"},
		{"negative retries", func(c *Config) { c.Engine.ChunkRetries = -1 }, "chunk_retries"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad server mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"db user required when enabled", func(c *Config) { c.Database.Enabled = true }, "database.user"},
		{"redis addr required when enabled", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"kafka brokers required when enabled", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"minio bucket required when enabled", func(c *Config) { c.MinIO.Enabled = true; c.MinIO.Bucket = "" }, "minio.bucket"},
		{"neo4j uri required when enabled", func(c *Config) { c.Neo4j.Enabled = true; c.Neo4j.URI = "" }, "neo4j.uri"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "text" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_DisabledAdaptersSkipChecks(t *testing.T) {
	cfg := Default()
	cfg.Database.User = ""
	cfg.Kafka.Brokers = nil
	assert.NoError(t, cfg.Validate())
}
