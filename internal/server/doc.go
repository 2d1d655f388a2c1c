// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。nodeflow 的 API 端口与 metrics 端口各使用
一个 Manager。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 生命周期方法。
  - Config：名称、监听地址、读写超时、空闲超时、最大请求头大小
    与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空。
  - 等待退出：Wait 在 context 结束（如收到信号）或服务异常时关闭服务器。
  - 地址查询：Addr 在启动后返回实际监听地址，便于使用 :0 端口。
*/
package server
