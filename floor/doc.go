// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package floor 实现发言权（floor）仲裁与自动释放看门狗。

# 概述

任意时刻只能有一个发言者（用户或某个 persona）向用户输出语音。
floor 包把这份共享的 TurnState 交给一个独占的 actor goroutine 持有，
所有操作都以闭包形式经 channel 送入，由 actor 串行执行，
因此 TryAcquire、Release、ForceRelease、SetUserTurn 之间全序且不会
部分交错。两个 worker 同时申请空闲发言权时，恰好一个胜出。

# 仲裁模式

  - ModeFree: 自由抢答。空闲时谁先申请谁发言，用户随时抢占。
  - ModeSequential: 固定轮转 [USER, p1, p2, ...]，只有当前序号上的
    发言者可以输出音频，完成或超时后推进。

两种模式实现同一个 Arbiter 接口，由 New 按配置选择，worker 代码无需区分。

# 看门狗

Watchdog 以固定间隔调用 Arbiter.Reclaim：
持有者静默超过阈值时强制释放，顺序模式下持有过久时强制推进。
这是已授予但从未显式释放的发言权（例如连接在说话途中断开）
得以回收的唯一机制。
*/
package floor
