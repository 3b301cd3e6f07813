// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

// Package telemetry 负责 OpenTelemetry SDK 的启动与关闭。
//
// 启用后注册全局 TracerProvider 与 MeterProvider，floor、gate、tools
// 等包通过 otel.Tracer 取得的 tracer 即指向 OTLP 导出器；
// 禁用时保持全局 noop 实现，不建立任何外部连接。
package telemetry
