// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

/*
Package compose 提供主动播报文本的切分与压缩工具。

# 概述

compose 是纯函数集合，不持有状态、不做 I/O。ResponseGate 在投递
主动播报前用它把一段文本整理成适合朗读的形态：要么压缩成一条
短句（Compress），要么拆成若干条短轮次依次播报（Chunk）。

# 核心函数

  - SplitSentences: 按句末标点切句；整段没有句末标点且足够长时，
    退化为按从句连接词切分
  - HardWrap: 超长片段在限制前最后一个空格处硬切
  - Compress: 贪心累积句子，输出单条播报文本
  - Chunk: 贪心累积句子，输出多条播报分块
  - Plan: 按 Config 与是否分块选择 Compress 或 Chunk

所有长度均按 rune 计算，韩文、中文与英文混排时行为一致。
*/
package compose
