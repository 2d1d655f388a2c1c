// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义文本生成节点使用的大语言模型接入层。

# 概述

本包只包含与服务商无关的请求/响应模型与 Provider 抽象。
具体的 HTTP 实现位于 providers/openaicompat，任何兼容 OpenAI
Chat Completions 协议的服务（OpenAI、DeepSeek、Qwen、本地推理服务等）
都可以通过它接入。

# 核心接口与类型

  - [Provider]：Completion / HealthCheck / Name / SupportsNativeFunctionCalling
  - [ChatRequest] / [ChatResponse]：统一的请求与响应模型
  - [ToolSchema] / [ToolCall]：工具声明与模型返回的工具调用
  - [Error]：带错误码、HTTP 状态与可重试标记的 Provider 错误

# 主要能力

  - [FirstChoice] 安全读取首个候选结果
  - 错误码与 types 包错误码一一对应，便于工作流节点归类失败原因
*/
package llm
