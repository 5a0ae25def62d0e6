// Copyright (c) ChatFlow Authors.
// Licensed under the MIT License.

/*
Package ratelimit 提供 LLM 调用的准入控制原语。

# 概述

Limiter 同时约束两件事：同一时刻在途的调用数量（MaxConcurrent），以及
相邻两次调用开始时间的最小间隔（MinInterval）。获取顺序固定为先占用准入
名额，再在独立的调度临界区内预约开始时间，最后在锁外等待到预约时间。

# 共享状态

Registry 以 id 为键共享限流状态：同 id 且同策略的句柄共享同一个闸门与
时钟，状态在最后一个句柄被回收后自动释放（weak 引用）。配置被重新加载
时通过 GetOrCreate 取回同一份状态，不会重置时钟。
*/
package ratelimit
