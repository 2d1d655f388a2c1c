// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 nodeflow 的配置加载与热重载。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，环境变量键名为
NODEFLOW_<SECTION>_<FIELD>，例如 NODEFLOW_ENGINE_MAX_CONCURRENCY。

# 核心接口与类型

  - Config: server / engine / llm / log / telemetry 五个配置段
  - Loader: Builder 模式的加载器，支持自定义前缀与验证器
  - FileWatcher: 轮询文件修改时间并防抖分发变更事件
  - HotReloadManager: 监听配置文件，重新加载并通知 OnChange / OnReload 回调

# 主要能力

  - Config.Validate 校验端口、并发、日志级别与采样率
  - 逗号分隔的环境变量自动解析为字符串切片
  - 热重载时区分可即时生效字段（如 Log.Level）与需重启字段，敏感字段脱敏
*/
package config
