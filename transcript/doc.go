// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

// Package transcript 保存对话的最终转写记录（用户与各 persona 的完整发言），
// 用于 persona 重连后回放最近的上下文。提供内存与 Redis 两种后端。
package transcript
