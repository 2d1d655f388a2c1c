// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供节点工作流图的编译与执行引擎。

# 概述

用户以带类型的节点（文本输入、提示词模板、文本生成、结果展示）和
连接命名 Handle 的边组成有向图。workflow 包负责从节点/边列表构建依赖图、
校验图结构（单一输入源、必需 Handle 覆盖、无环），计算确定性的执行顺序，
并按依赖关系调度节点处理器，只把每个节点依赖的上游结果传给它。

# 核心接口与类型

  - Node / Edge          — 图模型；DynamicHandles 保存用户定义的 Handle 分组
  - Contract             — 节点类型的输入/输出 Handle 声明（含必需项）
  - ContractRegistry     — 节点类型 → Contract；DefaultContracts 为内置类型
  - DependencyGraph      — dependencies / dependents / connectionMap 三个索引
  - WorkflowError        — 结构错误（多源输入、环、缺失必需连接、非法连接）
  - Compiler             — Prepare(nodes, edges) → WorkflowDefinition，永不失败
  - WorkflowDefinition   — 不可变编译结果；有环时 ExecutionOrder 为空
  - Processor            — 节点处理器接口；ProcessorRegistry 按类型分发
  - Engine / Run         — 执行引擎与单次运行（Cancel / Wait / Snapshot / Subscribe）
  - RunState / RunSnapshot — 单次运行的结果表及其只读副本

# 主要能力

  - Kahn 拓扑排序：FIFO 队列按声明顺序播种，结果稳定
  - 错误累积：所有校验器独立运行，错误全部汇总，不短路
  - 失败传播：失败节点的传递下游标记为 error，不调用其处理器；无关分支继续执行
  - 并发调度：errgroup.SetLimit 限流；并发度为 1 时严格按执行顺序调度
  - 运行守卫：同一 WorkflowDefinition 同时只允许一个运行，重复启动返回 RUN_IN_PROGRESS
  - 可观测性：zap 日志、OpenTelemetry span、RunObserver 指标回调、ExecutionHistory
  - 序列化：Document 支持 JSON / YAML 导入导出
*/
package workflow
