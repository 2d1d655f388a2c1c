// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置，
// 为访问模型服务的 HTTP 客户端提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 并支持加载额外的 CA 证书。
package tlsutil
