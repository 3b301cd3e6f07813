// Copyright (c) VoiceFloor Authors.
// Licensed under the MIT License.

// Package clientws 实现面向终端用户的 WebSocket 会话端点。
//
// 每条连接对应一场对话：二进制帧是 16 位 PCM 用户音频，文本帧是 JSON 控制消息
// （utterance 为语音识别的最终文本，announce 为主动播报请求）。
// persona 的音频以 {"type":"audio","speaker":...,"audio":<base64>} 下发。
package clientws
