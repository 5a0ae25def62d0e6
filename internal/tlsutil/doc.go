// Package tlsutil 提供 ChatFlow 对外连接使用的 TLS 配置：
// LLM 提供商的 HTTP 客户端与 Redis 连接（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
