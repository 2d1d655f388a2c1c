// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、工作流编译、
工作流运行与 LLM 调用四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册到默认或指定的 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时实现 workflow.CompileObserver、
    workflow.RunObserver 与 nodes.GenerationObserver。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 编译指标：按 valid/invalid 计数，按结构错误类型计数，耗时与节点数分布。
  - 运行指标：活跃运行数 Gauge，按状态统计运行与节点结果及耗时。
  - LLM 指标：请求总数、耗时、Token 用量（prompt/completion）。
*/
package metrics
