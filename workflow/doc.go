// Copyright (c) ChatFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 驱动多轮对话直至完成。

# 概述

[ChatWorkflow] 是不可变的对话声明：种子消息（原文、内联模板或具名模板）、
工具、可选的输出 Schema、运行输入与错误策略。每个 With* / Chat / Template
方法都返回修改后的副本，因此同一个 ChatWorkflow 可以安全地并发运行。

# 执行模型

一次运行由步进器驱动，每向对话追加一条消息就产生一个 [Step]：

  - 若最后一条消息带有工具调用，依次执行已注册的工具，每个结果是一条
    role=tool 的消息（未知工具名被跳过）
  - 否则发起一次补全；若补全不再请求工具调用，运行结束
  - maxSteps 限制步数，<= 0 不产生任何步骤，[Unbounded] 表示不限

严格输出模式下，不满足 Schema 的补全最多重试 numRetries 次；
带工具调用的补全不做校验。

# 错误策略

  - [PolicyRaise]：返回 *RunError（携带最后一个步骤与原始错误）
  - [PolicyReturn]：返回带失败标记的对话
  - [PolicySkip]：同 PolicyReturn；RunMany / RunBatch / Stream* 中过滤失败的对话

# 并发

RunMany / RunBatch 并发运行多个副本并保持输入顺序；StreamMany / StreamBatch
按完成顺序投递。一个副本失败不会取消其他副本。
*/
package workflow
