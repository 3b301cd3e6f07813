package types

import "time"

// FrameKind 标识远端模型推送帧的类型。
type FrameKind string

const (
	FrameAudio        FrameKind = "audio"
	FrameText         FrameKind = "text"
	FrameTurnComplete FrameKind = "turn_complete"
	FrameInterrupted  FrameKind = "interrupted"
	FrameToolCall     FrameKind = "tool_call"
)

// Frame 是远端对话音频模型推送的一帧。
type Frame struct {
	Kind     FrameKind `json:"kind"`
	Audio    []byte    `json:"audio,omitempty"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Received time.Time `json:"-"`
}

// ToolCall 是模型发起的工具调用请求。
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}
