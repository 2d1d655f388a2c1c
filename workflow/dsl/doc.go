// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package dsl 提供声明式工作流描述语言，将 HCL / YAML / JSON 文件解析为
可编译的 workflow.Document。

# 概述

DSL 文件声明节点、动态 handle 分组与连接，并支持变量。YAML / JSON
使用 ${name} 插值；整个字符串恰为一个引用时保留变量原始类型。
HCL 使用原生表达式，变量以 var.<name> 绑定到求值上下文。

# 核心接口与类型

  - Parser：解析器，支持 WithVariables 覆盖默认值
  - WorkflowDSL / NodeDef / EdgeDef / HandleDef：YAML / JSON 结构
  - Validator：结构校验（版本、名称、节点 ID、连接字段、变量引用）

# 主要能力

  - ParseFile 按扩展名（.hcl / .yaml / .yml / .json）分派
  - 动态 handle 经 Node.AddDynamicHandle 校验，缺失 ID 自动生成
  - 连接合法性、环与必填连接交由 workflow 编译器报告
*/
package dsl
