// =============================================================================
// 📦 ChatFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/workflow"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LLM:       DefaultLLMConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Retry:     DefaultRetryConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:     "openai",
		BaseURL:      "https://api.openai.com",
		EndpointPath: "/v1/chat/completions",
		Model:        "gpt-4o-mini",
		Timeout:      60 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置（关闭）
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:       false,
		ID:            "default",
		MinInterval:   0,
		MaxConcurrent: 8,
	}
}

// DefaultRetryConfig 返回默认重试配置，与 retry.DefaultRetryPolicy 保持一致
func DefaultRetryConfig() RetryConfig {
	p := retry.DefaultRetryPolicy()
	return RetryConfig{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.Multiplier,
		Jitter:       true,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Name:        workflow.DefaultName,
		ErrorPolicy: string(workflow.PolicyRaise),
		MaxSteps:    workflow.Unbounded,
		MaxParallel: 0,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		KeyPrefix: "chatflow:",
		TTL:       7 * 24 * time.Hour,
		TableName: "chatflow_runs",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "chatflow",
		Password:        "",
		Name:            "chatflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "chatflow",
	}
}
