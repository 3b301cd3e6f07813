package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/internal/tlsutil"
	"github.com/BaSui01/voicefloor/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上行消息类型
const (
	msgSetup      = "setup"
	msgAudio      = "audio"
	msgText       = "text"
	msgToolResult = "tool_result"
)

// clientMessage 上行 JSON 帧
type clientMessage struct {
	Type         string            `json:"type"`
	ID           string            `json:"id"`
	Setup        *setupPayload     `json:"setup,omitempty"`
	Audio        []byte            `json:"audio,omitempty"`
	SampleRate   int               `json:"sample_rate,omitempty"`
	Text         string            `json:"text,omitempty"`
	TurnComplete bool              `json:"turn_complete,omitempty"`
	ToolResult   *types.ToolResult `json:"tool_result,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

type setupPayload struct {
	Model            string                  `json:"model,omitempty"`
	Persona          string                  `json:"persona"`
	Voice            string                  `json:"voice,omitempty"`
	Instruction      string                  `json:"instruction,omitempty"`
	OutputSampleRate int                     `json:"output_sample_rate,omitempty"`
	Tools            []types.ToolDeclaration `json:"tools,omitempty"`
}

// serverMessage 下行 JSON 帧
type serverMessage struct {
	Type     types.FrameKind `json:"type"`
	Audio    []byte          `json:"audio,omitempty"`
	Text     string          `json:"text,omitempty"`
	ToolCall *types.ToolCall `json:"tool_call,omitempty"`
}

// WSDialer 通过 WebSocket JSON 协议连接实时网关
type WSDialer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewWSDialer 创建 WebSocket Dialer
func NewWSDialer(cfg Config, logger *zap.Logger) *WSDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSDialer{
		cfg:    cfg,
		client: tlsutil.UpgradeClient(cfg.DialTimeout),
		logger: logger.With(zap.String("component", "realtime_ws")),
	}
}

// Dial 建立连接并发送 setup 帧
func (d *WSDialer) Dial(ctx context.Context, p types.Persona) (Session, error) {
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{HTTPClient: d.client}
	if d.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + d.cfg.APIKey}}
	}
	conn, _, err := websocket.Dial(ctx, d.cfg.URL, opts)
	if err != nil {
		return nil, types.NewError(types.ErrConnectionFailed, "websocket dial").
			WithCause(err).WithRetryable(true).WithPersona(p.ID)
	}
	conn.SetReadLimit(4 << 20)

	s := NewWSSession(conn, p.ID, d.logger)
	setup := clientMessage{
		Type: msgSetup,
		Setup: &setupPayload{
			Model:            d.cfg.Model,
			Persona:          p.DisplayName(),
			Voice:            p.Voice,
			Instruction:      p.Instruction,
			OutputSampleRate: d.cfg.OutputSampleRate,
			Tools:            d.cfg.Tools,
		},
	}
	if err := s.write(ctx, setup); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// WSSession 将 WebSocket 连接适配为 Session。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WSSession struct {
	conn    *websocket.Conn
	persona types.SpeakerID
	logger  *zap.Logger
	mu      sync.Mutex // 保护写操作
	closed  bool
}

// NewWSSession 从已建立的 WebSocket 连接创建会话
func NewWSSession(conn *websocket.Conn, persona types.SpeakerID, logger *zap.Logger) *WSSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSession{
		conn:    conn,
		persona: persona,
		logger:  logger.With(zap.String("persona", persona.String())),
	}
}

// SendAudio 发送一段 PCM 音频
func (s *WSSession) SendAudio(ctx context.Context, data []byte, sampleRate int) error {
	return s.write(ctx, clientMessage{Type: msgAudio, Audio: data, SampleRate: sampleRate})
}

// SendText 发送文本上下文
func (s *WSSession) SendText(ctx context.Context, text string, completeTurn bool) error {
	return s.write(ctx, clientMessage{Type: msgText, Text: text, TurnComplete: completeTurn})
}

// SendToolResult 回传工具结果
func (s *WSSession) SendToolResult(ctx context.Context, result types.ToolResult) error {
	return s.write(ctx, clientMessage{Type: msgToolResult, ToolResult: &result})
}

func (s *WSSession) write(ctx context.Context, msg clientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NewError(types.ErrSessionClosed, "session closed").WithPersona(s.persona)
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return types.NewError(types.ErrSendFailed, "websocket write").
			WithCause(err).WithRetryable(true).WithPersona(s.persona)
	}
	return nil
}

// Receive 读取下一帧。二进制消息视为原始 PCM 音频，未知类型的 JSON 帧被跳过。
func (s *WSSession) Receive(ctx context.Context) (*types.Frame, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, types.NewError(types.ErrReceiveFailed, "websocket read").
				WithCause(err).WithRetryable(true).WithPersona(s.persona)
		}

		if typ == websocket.MessageBinary {
			f := newFrame(types.FrameAudio)
			f.Audio = data
			return f, nil
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, types.NewError(types.ErrReceiveFailed, "unmarshal server message").
				WithCause(err).WithPersona(s.persona)
		}

		switch msg.Type {
		case types.FrameAudio, types.FrameText, types.FrameTurnComplete, types.FrameInterrupted:
		case types.FrameToolCall:
			if msg.ToolCall == nil {
				continue
			}
		default:
			s.logger.Debug("skipping unknown server message", zap.String("type", string(msg.Type)))
			continue
		}

		f := newFrame(msg.Type)
		f.Audio = msg.Audio
		f.Text = msg.Text
		f.ToolCall = msg.ToolCall
		return f, nil
	}
}

// Close 关闭 WebSocket 连接。
func (s *WSSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}
