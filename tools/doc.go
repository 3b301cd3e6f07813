// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

// Package tools 提供 persona 工具调用的注册表与执行器。
//
// 每个工具带有声明（发给远端模型）、执行超时与可选的速率限制。
// 执行失败、超时、限流或工具不存在时都返回带 {"error": ...} 的结果，
// 保证模型总能收到回复，worker 也不会因工具故障而中断。
package tools
