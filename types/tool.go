package types

import "time"

// ToolResult represents the result of a tool execution.
// 失败时 Error 非空，Payload 中同时带有 {"error": ...}，保证模型总能收到回复。
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}

// NewToolErrorResult 构造一个携带错误标记的工具结果。
func NewToolErrorResult(call ToolCall, err error) ToolResult {
	msg := err.Error()
	return ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: map[string]any{"error": msg},
		Error:   msg,
	}
}
