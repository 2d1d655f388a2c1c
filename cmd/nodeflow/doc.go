// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 nodeflow 服务端与命令行入口。

# 概述

cmd/nodeflow 是 nodeflow 的可执行入口，提供 HTTP API 服务、本地编译与执行
工作流文件、健康检查和版本查询等子命令。程序支持 YAML 配置文件与环境变量加载、
结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪以及日志级别热重载。

# 核心类型

  - Server      — 主服务器，装配编译器、执行引擎与 handlers，管理 HTTP、Metrics 双端口
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、compile（输出定义）、run（执行并输出快照）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、RequestLogger、
    MetricsMiddleware、CORS、JWTAuth 或 APIKeyAuth、RateLimiter（按用户或 IP）
  - 处理器选择：配置 LLM 时使用 OpenAI 兼容 Provider，否则使用预览处理器
  - 配置热重载：HotReloadManager 轮询配置文件，Log.Level 即时生效
  - 优雅关闭：信号 → 停止限流清理 → 停止热更新 → 关闭 HTTP → 关闭 Metrics → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
