// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/llm/ratelimit"
	"github.com/BaSui01/chatflow/workflow"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, workflow.DefaultName, cfg.Workflow.Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "chatflow.yaml")

	yamlContent := `
llm:
  provider: "deepseek"
  base_url: "https://api.deepseek.com"
  model: "deepseek-chat"
  timeout: 90s
  temperature: 0.2
  max_tokens: 512

rate_limit:
  enabled: true
  id: "shared"
  rpm: 120
  max_concurrent: 4

retry:
  max_attempts: 5
  initial_delay: 250ms
  max_delay: 4s
  multiplier: 3

workflow:
  name: "qa"
  error_policy: "skip"
  max_steps: 12
  max_parallel: 3

store:
  type: "redis"
  ttl: 1h

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.InDelta(t, 0.2, *cfg.LLM.Temperature, 1e-6)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, "/v1/chat/completions", cfg.LLM.EndpointPath)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "shared", cfg.RateLimit.ID)
	assert.Equal(t, 4, cfg.RateLimit.MaxConcurrent)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 3.0, cfg.Retry.Multiplier)

	assert.Equal(t, "qa", cfg.Workflow.Name)
	assert.Equal(t, 12, cfg.Workflow.MaxSteps)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, "chatflow:", cfg.Store.KeyPrefix)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATFLOW_LLM_MODEL", "gpt-4o")
	t.Setenv("CHATFLOW_LLM_TEMPERATURE", "0.9")
	t.Setenv("CHATFLOW_LLM_TIMEOUT", "15s")
	t.Setenv("CHATFLOW_RATE_LIMIT_MIN_INTERVAL", "200ms")
	t.Setenv("CHATFLOW_WORKFLOW_ERROR_POLICY", "return")
	t.Setenv("CHATFLOW_WORKFLOW_MAX_STEPS", "7")
	t.Setenv("CHATFLOW_RETRY_JITTER", "false")
	t.Setenv("CHATFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/chatflow.log")
	t.Setenv("CHATFLOW_METRICS_NAMESPACE", "qa")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.InDelta(t, 0.9, *cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.RateLimit.MinInterval)
	assert.Equal(t, "return", cfg.Workflow.ErrorPolicy)
	assert.Equal(t, 7, cfg.Workflow.MaxSteps)
	assert.False(t, cfg.Retry.Jitter)
	assert.Equal(t, []string{"stdout", "/tmp/chatflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "qa", cfg.Metrics.Namespace)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "chatflow.yaml")
	yamlContent := `
llm:
  model: "yaml-model"
  provider: "yaml-provider"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("CHATFLOW_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "yaml-provider", cfg.LLM.Provider)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_WORKFLOW_NAME", "custom")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Workflow.Name)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CHATFLOW_WORKFLOW_MAX_STEPS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATFLOW_WORKFLOW_MAX_STEPS")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("CHATFLOW_WORKFLOW_ERROR_POLICY", "explode")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/chatflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
llm:
  model: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("workflow:\n  max_steps: 0\n"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"negative timeout", func(c *Config) { c.LLM.Timeout = -time.Second }, "llm.timeout"},
		{"temperature out of range", func(c *Config) { v := float32(2.5); c.LLM.Temperature = &v }, "temperature"},
		{"rate limit without id", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.ID = "" }, "rate_limit.id"},
		{"negative interval", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.MinInterval = -1 }, "min interval"},
		{"bad policy", func(c *Config) { c.Workflow.ErrorPolicy = "ignore" }, "ignore"},
		{"zero max steps", func(c *Config) { c.Workflow.MaxSteps = 0 }, "max_steps"},
		{"negative max steps", func(c *Config) { c.Workflow.MaxSteps = -1 }, "max_steps"},
		{"unbounded max steps", func(c *Config) { c.Workflow.MaxSteps = workflow.Unbounded }, ""},
		{"bad store", func(c *Config) { c.Store.Type = "mongo" }, "mongo"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_RetryPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2, Jitter: true}

	p := cfg.RetryPolicy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.True(t, p.Jitter)
}

func TestConfig_RateLimitStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, ID: "x", RPM: 60, MaxConcurrent: 2}

	s, err := cfg.RateLimitStrategy()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Strategy{MinInterval: time.Second, MaxConcurrent: 2}, s)

	cfg.RateLimit.RPM = 0
	cfg.RateLimit.MinInterval = 300 * time.Millisecond
	s, err = cfg.RateLimitStrategy()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, s.MinInterval)

	cfg.RateLimit.MinInterval = -time.Second
	_, err = cfg.RateLimitStrategy()
	assert.ErrorIs(t, err, ratelimit.ErrInvalidStrategy)
}

func TestConfig_GenerationParamsAndPolicy(t *testing.T) {
	cfg := DefaultConfig()
	temp := float32(0.3)
	cfg.LLM.Temperature = &temp
	cfg.LLM.MaxTokens = 256
	cfg.Workflow.ErrorPolicy = "skip"

	p := cfg.GenerationParams()
	assert.Equal(t, cfg.LLM.Model, p.Model)
	assert.Equal(t, &temp, p.Temperature)
	assert.Equal(t, 256, p.MaxTokens)

	policy, err := cfg.ErrorPolicy()
	require.NoError(t, err)
	assert.Equal(t, workflow.PolicySkip, policy)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name:   "postgres",
			config: DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "chat", SSLMode: "disable"},
			want:   "host=db port=5432 user=u password=p dbname=chat sslmode=disable",
		},
		{
			name:   "mysql",
			config: DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "chat"},
			want:   "u:p@tcp(db:3306)/chat?parseTime=true",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: "sqlite", Name: "/tmp/chat.db"},
			want:   "/tmp/chat.db",
		},
		{
			name:   "unknown",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
