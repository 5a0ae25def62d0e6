// Package openaicompat implements llm.Provider against any backend that speaks
// the OpenAI Chat Completions wire format (OpenAI, DeepSeek, Qwen, vLLM,
// Ollama and similar).
//
// One Completion call is one HTTP request. Throttling and retries are layered
// on top by llm.Generator; the provider only classifies failures through
// ShouldRetry.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.deepseek.com",
//	    DefaultModel: "deepseek-chat",
//	}, logger)
package openaicompat
