// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package providers 提供 OpenAI 兼容协议的通用适配能力，是具体 Provider
实现的公共基础层。

# 概述

openaicompat 子包依赖本包完成请求/响应转换与错误映射。

# 核心类型

  - OpenAICompat* 系列：OpenAI 兼容 API 的请求/响应/工具调用结构体

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 llm.Error（含 Retryable 标记）
  - ReadErrorMessage：提取上游错误消息
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI：消息与工具格式转换
  - ToLLMChatResponse：响应到 llm.ChatResponse 的转换
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
