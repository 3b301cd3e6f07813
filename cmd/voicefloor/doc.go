// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package main 提供 VoiceFloor 服务端程序入口。

# 概述

cmd/voicefloor 启动多角色实时语音编排服务：每条客户端 WebSocket 连接
对应一个独立的对话编排器，编排器为每个角色维护一条远端模型会话，
并由发言权仲裁器决定谁可以出声。

# 核心类型

  - Server：主服务器，管理会话端口与 Metrics 端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder：包装 http.ResponseWriter 以捕获状态码，保留 Hijack 能力

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、RateLimiter（基于 IP）、APIKeyAuth
  - 会话端点：/v1/conversation 升级为 WebSocket
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号 → 结束所有对话 → 关闭会话端口 → 关闭 Metrics → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
