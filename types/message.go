package types

import "time"

// MessageKind 是 InboxMessage 的标签。
type MessageKind string

const (
	MessageAudio       MessageKind = "audio"
	MessageTextContext MessageKind = "text_context"
	MessageToolResult  MessageKind = "tool_result"
)

// InboxMessage 是角色收件箱中的一条消息（带标签的联合体）。
// 每条消息只会被所属 worker 的发送协程取出一次；发送失败时最多重新入队一次。
type InboxMessage struct {
	Kind MessageKind `json:"kind"`

	// Audio
	Audio      []byte `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// TextContext
	Text           string `json:"text,omitempty"`
	SystemInjected bool   `json:"system_injected,omitempty"`
	CompleteTurn   bool   `json:"complete_turn,omitempty"`

	// ToolResult
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempts 记录发送失败次数，由 Inbox.Requeue 维护
	Attempts int `json:"attempts"`
}

// NewAudioMessage 创建音频消息。
func NewAudioMessage(data []byte, sampleRate int) InboxMessage {
	return InboxMessage{
		Kind:       MessageAudio,
		Audio:      data,
		SampleRate: sampleRate,
		EnqueuedAt: time.Now(),
	}
}

// NewTextContext 创建文本上下文消息。
func NewTextContext(text string, systemInjected, completeTurn bool) InboxMessage {
	return InboxMessage{
		Kind:           MessageTextContext,
		Text:           text,
		SystemInjected: systemInjected,
		CompleteTurn:   completeTurn,
		EnqueuedAt:     time.Now(),
	}
}

// NewToolResultMessage 创建工具结果消息。
func NewToolResultMessage(result ToolResult) InboxMessage {
	return InboxMessage{
		Kind:       MessageToolResult,
		ToolResult: &result,
		EnqueuedAt: time.Now(),
	}
}

// IsDroppable 报告该消息在收件箱溢出时是否可以被丢弃。只有音频可丢。
func (m InboxMessage) IsDroppable() bool {
	return m.Kind == MessageAudio
}
