/*
# 概述

包 providers 提供 OpenAI 兼容后端的通用适配能力：请求/响应格式转换、
HTTP 错误语义映射与模型选择。具体的 HTTP 客户端实现在 openaicompat 子包。

# 核心函数

  - MapHTTPError: 将 HTTP 状态码映射为 *types.Error（含 Retryable 标记）
  - ReadErrorMessage: 解析后端错误响应体
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI: 消息与工具格式转换
  - ToLLMChatResponse: OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel: 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
