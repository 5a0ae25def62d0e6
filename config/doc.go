// Package config 提供 ChatFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，环境变量键名为
// CHATFLOW_<SECTION>_<FIELD>。Config 提供到运行时类型的转换
// （RetryPolicy、RateLimitStrategy、GenerationParams、ErrorPolicy），
// FileWatcher 以轮询方式监听工作流定义文件并触发重载。
package config
