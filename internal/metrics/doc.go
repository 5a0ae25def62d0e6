// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 LLM 调用、
工作流运行与数据库连接池三个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
所有指标按 namespace 隔离。Collector 同时实现 llm.Observer 与
workflow.Observer，可直接传给 llm.WithObserver 与 workflow.WithMetrics。

# 主要能力

  - LLM 指标：尝试次数（按 provider/model/status）、尝试耗时、
    Token 用量（prompt/completion）、重试次数、限流等待时间。
  - Workflow 指标：运行次数（按 workflow/status）、运行耗时、
    每次运行的步骤数、按角色统计的步骤数。
  - 数据库指标：活跃/空闲连接数 Gauge，由 database.PoolManager
    的健康检查循环定期上报。
*/
package metrics
