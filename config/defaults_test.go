package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/workflow"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, RateLimitConfig{}, cfg.RateLimit)
	assert.NotEqual(t, RetryConfig{}, cfg.Retry)
	assert.NotEqual(t, WorkflowConfig{}, cfg.Workflow)
	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
}

// --- Individual Default*Config functions ---

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "/v1/chat/completions", cfg.EndpointPath)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Nil(t, cfg.Temperature)
	assert.Empty(t, cfg.APIKey)
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "default", cfg.ID)
	assert.Equal(t, 8, cfg.MaxConcurrent)
}

func TestDefaultRetryConfig_MatchesRetryPackage(t *testing.T) {
	cfg := DefaultRetryConfig()
	p := retry.DefaultRetryPolicy()
	assert.Equal(t, p.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, p.InitialDelay, cfg.InitialDelay)
	assert.Equal(t, p.MaxDelay, cfg.MaxDelay)
	assert.Equal(t, p.Multiplier, cfg.Multiplier)
	assert.True(t, cfg.Jitter)
}

func TestDefaultWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	assert.Equal(t, workflow.DefaultName, cfg.Name)
	assert.Equal(t, "raise", cfg.ErrorPolicy)
	assert.Equal(t, workflow.Unbounded, cfg.MaxSteps)
	assert.Zero(t, cfg.WatchInterval)
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "chatflow:", cfg.KeyPrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.TTL)
	assert.Equal(t, "chatflow_runs", cfg.TableName)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "chatflow.db", cfg.DSN())
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "chatflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "chatflow", cfg.Namespace)
}
