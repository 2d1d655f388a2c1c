// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 telemetry 封装 OpenTelemetry SDK 初始化逻辑，为 nodeflow 提供
集中式的 TracerProvider 与 MeterProvider 配置。

# 概述

Init 根据 config.TelemetryConfig 创建 OTLP gRPC 导出器并注册为全局
Provider。遥测禁用时返回 noop Providers，不连接任何外部服务，但仍
安装 W3C TraceContext/Baggage 传播器，使 HTTP 中间件能够延续上游链路。

# 核心类型

  - Providers：持有 SDK TracerProvider 与 MeterProvider，提供 Tracer
    与 Shutdown。
  - Option：Init 的可选项，例如 WithSpanExporter 用于测试注入内存导出器。

# 主要能力

  - 基于 TraceIDRatioBased 的父级感知采样。
  - 资源属性包含服务名与构建版本。
  - Shutdown 合并 trace/metric 的关闭错误，可在 nil 上安全调用。
*/
package telemetry
