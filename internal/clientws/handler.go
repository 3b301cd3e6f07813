package clientws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/gate"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 对话接口
// =============================================================================

// Conversation 是一条连接背后的对话
type Conversation interface {
	Run(ctx context.Context) error
	PushUserAudio(pcm []byte)
	OnFinalizedUtterance(ctx context.Context, text string)
	Submit(a gate.Announcement) (string, error)
}

// Factory 为新连接创建对话，client 是该连接的下行通道
type Factory func(conversationID string, client persona.ClientRelay) (Conversation, error)

// Config 端点配置
type Config struct {
	// OriginPatterns 允许的跨域来源，空表示只允许同源
	OriginPatterns []string
	// ReadLimit 单条消息的最大字节数
	ReadLimit int64
	// WriteTimeout 单次下行写入的超时
	WriteTimeout time.Duration
	// StopTimeout 连接断开后等待对话退出的上限
	StopTimeout time.Duration
}

// DefaultConfig 返回默认端点配置
func DefaultConfig() Config {
	return Config{
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// =============================================================================
// 📨 协议
// =============================================================================

const (
	typeUtterance = "utterance"
	typeAnnounce  = "announce"
	typeAudio     = "audio"
	typeAccepted  = "accepted"
	typeError     = "error"
	typeReady     = "ready"
)

// inboundMessage 客户端文本帧
type inboundMessage struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Persona types.SpeakerID `json:"persona,omitempty"`
	Split   bool            `json:"split,omitempty"`
	Intent  string          `json:"intent,omitempty"`
}

// outboundMessage 服务端下行帧；Audio 以 base64 编码
type outboundMessage struct {
	Type           string          `json:"type"`
	Speaker        types.SpeakerID `json:"speaker,omitempty"`
	Audio          []byte          `json:"audio,omitempty"`
	ID             string          `json:"id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// =============================================================================
// 🌐 Handler
// =============================================================================

// Handler WebSocket 会话端点
type Handler struct {
	factory Factory
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	active map[string]*websocket.Conn
	closed bool
	wg     sync.WaitGroup
}

// NewHandler 创建端点
func NewHandler(factory Factory, cfg Config, logger *zap.Logger, m *metrics.Collector) *Handler {
	def := DefaultConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		factory: factory,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "client_ws")),
		metrics: m,
		active:  make(map[string]*websocket.Conn),
	}
}

// Active 返回当前连接数
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// Close 以 going away 关闭全部进行中的连接并拒绝新连接。
// 连接关闭后读循环退出，随之结束对应的对话。
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, conn := range h.active {
		go func(c *websocket.Conn) {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}(conn)
	}
}

func (h *Handler) track(id string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.active[id] = conn
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, id)
	h.wg.Done()
}

// Shutdown 调用 Close 并等待全部对话退出，ctx 到期时返回其错误
func (h *Handler) Shutdown(ctx context.Context) error {
	h.Close()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP 升级连接并运行一场对话，直到任一方断开
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	id := uuid.NewString()
	logger := h.logger.With(zap.String("conversation_id", id))
	client := newConnClient(conn, h.cfg.WriteTimeout)

	if !h.track(id, conn) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.untrack(id)

	ctx, cancel := context.WithCancel(types.WithSessionID(r.Context(), id))
	defer cancel()

	conv, err := h.factory(id, client)
	if err != nil {
		logger.Error("failed to create conversation", zap.Error(err))
		_ = client.write(ctx, errorMessage(err))
		_ = conn.Close(websocket.StatusInternalError, "conversation unavailable")
		return
	}

	h.metrics.ClientSessionOpened()
	defer h.metrics.ClientSessionClosed()
	logger.Info("client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan error, 1)
	go func() {
		err := conv.Run(ctx)
		done <- err
		// 对话自行结束时关闭连接，让读循环退出
		if ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "conversation ended")
		}
	}()

	_ = client.write(ctx, outboundMessage{Type: typeReady, ConversationID: id})

	// 读循环使用请求上下文：Close 通过关闭连接而非取消来结束读取
	readErr := h.readLoop(r.Context(), ctx, conn, client, conv, logger)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("conversation ended with error", zap.Error(err))
		}
	case <-time.After(h.cfg.StopTimeout):
		logger.Warn("conversation did not stop in time", zap.Duration("timeout", h.cfg.StopTimeout))
	}

	status := websocket.CloseStatus(readErr)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		logger.Info("client disconnected")
	} else if readErr != nil && !errors.Is(readErr, context.Canceled) {
		logger.Info("client connection closed", zap.Error(readErr))
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) readLoop(readCtx, ctx context.Context, conn *websocket.Conn, client *connClient, conv Conversation, logger *zap.Logger) error {
	for {
		typ, data, err := conn.Read(readCtx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			conv.PushUserAudio(data)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = client.write(ctx, outboundMessage{Type: typeError, Code: "INVALID_MESSAGE", Message: "malformed JSON"})
			continue
		}

		switch strings.ToLower(msg.Type) {
		case typeUtterance:
			conv.OnFinalizedUtterance(ctx, msg.Text)
		case typeAnnounce:
			annID, err := conv.Submit(gate.Announcement{
				Persona: msg.Persona,
				Text:    msg.Text,
				Split:   msg.Split,
				Intent:  msg.Intent,
			})
			if err != nil {
				logger.Warn("announcement rejected", zap.Error(err))
				_ = client.write(ctx, errorMessage(err))
				continue
			}
			_ = client.write(ctx, outboundMessage{Type: typeAccepted, ID: annID})
		default:
			_ = client.write(ctx, outboundMessage{Type: typeError, Code: "INVALID_MESSAGE", Message: "unknown message type " + msg.Type})
		}
	}
}

func errorMessage(err error) outboundMessage {
	code := string(types.GetErrorCode(err))
	if code == "" {
		code = "INTERNAL"
	}
	return outboundMessage{Type: typeError, Code: code, Message: err.Error()}
}

// =============================================================================
// 📤 下行
// =============================================================================

// connClient 把 persona 音频写回 WebSocket，实现 persona.ClientRelay
type connClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ persona.ClientRelay = (*connClient)(nil)

func newConnClient(conn *websocket.Conn, writeTimeout time.Duration) *connClient {
	return &connClient{conn: conn, writeTimeout: writeTimeout}
}

// SendAudio 下发一段 persona 音频
func (c *connClient) SendAudio(ctx context.Context, speaker types.SpeakerID, audio []byte) error {
	return c.write(ctx, outboundMessage{Type: typeAudio, Speaker: speaker, Audio: audio})
}

func (c *connClient) write(ctx context.Context, msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return types.NewError(types.ErrSendFailed, "client write failed").WithCause(err)
	}
	return nil
}
