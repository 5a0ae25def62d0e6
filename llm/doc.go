/*
包 llm 提供统一的大语言模型调用层：Provider 抽象与「限流 + 重试」组合调用。

# 核心接口

  - [Provider]：后端适配接口，一次 Completion 即一次后端调用
  - [RetryClassifier]：可选，由 Provider 区分瞬时错误与致命错误
  - [Observer]：尝试、限流等待与重试的观测接收者

# Generator

[Generator] 将一次后端调用组合为

	attempt = retry(throttle(provider.Completion))

每次尝试（包括失败的）都会占用限流器的一个准入名额并消耗一次调度间隔。
Generator 不可变，[Generator.With] 返回修改后的副本，可安全地在多个
工作流副本之间共享。

# 子包

  - llm/ratelimit：准入 + 节奏限流器与按 id 共享状态的注册表
  - llm/retry：指数退避重试执行器
  - llm/tools：工具定义与注册表
  - llm/structured：结构化输出 Schema
  - llm/providers/openaicompat：OpenAI 兼容 HTTP 后端
*/
package llm
