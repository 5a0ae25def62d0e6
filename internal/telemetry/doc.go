// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 ChatFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。
// Generator 的 "llm.completion" span 与 Workflow 的 "workflow.run" span
// 通过 Providers.Tracer 接入。遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
