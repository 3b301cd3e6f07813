// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package gate 实现主动播报的响应闸门与调度器。

# 闸门

Gate.Deliver 把一条系统播报交给目标 persona 说出：

 1. 重置闸门状态；
 2. 对 compose.Plan 产生的每一块：打开闸门、记录请求时间、
    设置 blockDirectAudioUntil = now + BlockDirectAudio，
    以 complete_turn=true 的指令注入目标收件箱，并等待该轮次结束；
 3. 全部完成后再次重置。

闸门打开期间，worker 通过 AllowFragment 丢弃在请求之前就已开始的模型轮次，
防止过期片段在播报开始后漏出。正常对话仍然经由仲裁器流转。

# 调度器

Scheduler 排队播报，并用令牌桶限速逐条交给 Gate。
*/
package gate
