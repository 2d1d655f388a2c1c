// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 nodeflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流编译、执行、运行查询与事件推送端点，
以及健康检查和统一的响应/错误处理。所有 Handler 均遵循标准
net/http 接口，路由使用 Go 1.22 的方法与路径模式。

# 核心类型

  - WorkflowHandler   — 编译、执行、查询、取消运行与执行历史
  - EventsHandler     — 运行事件流（websocket，回退为 SSE）
  - HealthHandler     — 服务健康检查（/health, /healthz, /ready）
  - CompileRequest    — 图（nodes/edges）或 DSL 源文本（yaml/json/hcl）
  - Response          — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo         — 结构化错误信息，含 code、message、details
  - ResponseWriter    — 包装 http.ResponseWriter 以捕获状态码与字节数

# 主要能力

  - 结构错误不阻止编译：/workflows/compile 总是返回定义与错误列表
  - /workflows/run 对无效图返回 422，并在 details 中给出全部错误
  - 运行生命周期独立于请求；?wait=true 时阻塞至运行结束
  - 迟到的事件订阅者会重放全部已发生事件，最后一条为 run_complete
  - types.ErrorCode → HTTP 状态码映射（types.StatusForCode）
*/
package handlers
