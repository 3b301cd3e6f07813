// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的对话编排指标采集能力，覆盖
HTTP、发言权仲裁、角色连接、跨角色转述、主动播报与工具调用。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
Collector 的所有 Record 方法对 nil 接收者安全，组件在未注入指标时
无需额外判断。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 向量指标。

# 主要能力

  - 仲裁指标：按发言者统计授予/拒绝次数，看门狗回收次数（按原因）。
  - 音频指标：被丢弃的音频片段数，按 persona/reason 分组。
  - 连接指标：重连次数、连接状态 Gauge、收件箱深度与重入队/丢弃计数。
  - 转述指标：跨角色转述次数与轮次上限命中次数。
  - 播报指标：播报与分块数量，按 persona/status 分组。
  - 工具指标：调用次数与耗时，按 tool/status 分组。
*/
package metrics
