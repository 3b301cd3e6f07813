// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package persona 实现每个语音角色的流式 worker 与收件箱。

# 概述

每个 persona 持有一条到远端实时语音模型的双工连接，由一个 Worker
负责维持。Worker 在连接断开后按固定退避重连，收件箱在重连期间保留，
因此待发送的输入不会丢失。

# 核心类型

  - Inbox: 有界 FIFO 收件箱。发送失败的消息可以重新放回队首一次；
    超出容量时丢弃最旧的音频，文本与工具结果从不丢弃。
  - Worker: 连接生命周期
    disconnected → connecting → connected → (error → backoff → connecting) | shutting_down。
    每条连接上运行一对 sender / receiver 协程（errgroup），任一方失败即触发重连。

# 发言约束

receiver 在把音频片段转发给客户端之前依次检查：播报闸门（丢弃过期片段）、
首答保护（用户刚说完时只有主答 persona 可以先开口，仅自由模式）、
发言权仲裁（TryAcquire）。任一检查未通过，片段被静默丢弃。

# 使用示例

	w := persona.NewWorker(p, dialer, arbiter, client, persona.DefaultConfig(),
		persona.WithRelay(r), persona.WithGate(g), persona.WithTools(registry))
	go w.Run(ctx)
	_ = w.Enqueue(types.NewAudioMessage(pcm, 16000))
*/
package persona
