package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// Session 与远端模型之间的一条双工连接。
// Send* 可以与 Receive 并发调用；Send* 之间由实现自行串行化。
type Session interface {
	SendAudio(ctx context.Context, data []byte, sampleRate int) error
	SendText(ctx context.Context, text string, completeTurn bool) error
	SendToolResult(ctx context.Context, result types.ToolResult) error
	// Receive 阻塞直到下一帧、会话关闭或 ctx 结束。
	Receive(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Dialer 为指定 persona 建立会话。
type Dialer interface {
	Dial(ctx context.Context, p types.Persona) (Session, error)
}

// DialerFunc 函数适配器
type DialerFunc func(ctx context.Context, p types.Persona) (Session, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, p types.Persona) (Session, error) {
	return f(ctx, p)
}

// Provider 远端模型提供方
type Provider string

const (
	ProviderWebSocket Provider = "websocket"
	ProviderGemini    Provider = "gemini"
)

// Config 会话配置
type Config struct {
	Provider         Provider
	URL              string
	Model            string
	APIKey           string
	InputSampleRate  int
	OutputSampleRate int
	DialTimeout      time.Duration
	// Tools 在建连时声明给模型
	Tools []types.ToolDeclaration
}

// NewDialer 按 Provider 创建 Dialer
func NewDialer(ctx context.Context, cfg Config, logger *zap.Logger) (Dialer, error) {
	switch cfg.Provider {
	case ProviderWebSocket, "":
		return NewWSDialer(cfg, logger), nil
	case ProviderGemini:
		return NewGeminiDialer(ctx, cfg, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown realtime provider %q", cfg.Provider))
	}
}

func newFrame(kind types.FrameKind) *types.Frame {
	return &types.Frame{Kind: kind, Received: time.Now()}
}
