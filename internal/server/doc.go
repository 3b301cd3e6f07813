// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

// Package server 管理 VoiceFloor 的 HTTP 监听器生命周期。
//
// Manager 包装 net/http.Server：Start 非阻塞启动，Wait 阻塞到上下文取消
// 或服务异常退出，然后在 ShutdownTimeout 内优雅关闭。会话端口与
// metrics 端口各使用一个 Manager。
package server
