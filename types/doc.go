// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 nodeflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、llm、api
等上层模块提供统一的错误码与 Context 传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - 工作流错误码      — GRAPH_INVALID / PROCESSOR_NOT_FOUND / UPSTREAM_FAILED 等

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithRunID / WithWorkflowID / WithNodeID
  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable / StatusForCode
*/
package types
