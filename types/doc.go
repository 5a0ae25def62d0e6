// Copyright (c) ChatFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ChatFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、workflow、templates
等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message: 对话消息（Role、Content、ToolCalls、ToolCallID）
  - ToolCall: 模型发起的工具调用
  - ToolSchema: 工具定义（name + description + JSON Schema parameters）
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithRunID / WithTraceID / WithWorkflowName
  - 错误工具链：AsError / IsErrorCode / IsRetryable
*/
package types
