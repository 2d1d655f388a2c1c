// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package nodes 提供内置节点类型的处理器与文本生成适配层。

# 概述

text-input 输出配置值；prompt-crafter 用连接到模板标签的输入替换
{{tag}} 占位符；generate-text 把 prompt / system 与工具声明交给
TextGenerator；visualize-text 是无输出的展示节点。

# 核心接口与类型

  - TextGenerator：文本生成协作者，LLMGenerator 基于 llm.Provider 实现，
    EchoGenerator 用于预览
  - GenerateTextResult：生成结果，output handle 输出文本，
    每个工具 handle 输出对应工具调用的参数

# 主要能力

  - ServerProcessors / PreviewProcessors 构建处理器注册表
  - Provider 错误映射为 types 错误码，节点失败原因可区分
*/
package nodes
