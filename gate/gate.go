package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/compose"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/voicefloor/gate"

// 播报结果，用于指标
const (
	StatusDelivered = "delivered"
	StatusTimeout   = "timeout"
	StatusUnheard   = "unheard"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Target 可接收播报指令的收件箱
type Target interface {
	Enqueue(msg types.InboxMessage) error
}

// Resolver 按 persona ID 查找收件箱
type Resolver func(id types.SpeakerID) (Target, bool)

// Floor 是闸门看到的仲裁器：每块播报开始时把发言权交给目标 persona
type Floor interface {
	Seize(who types.SpeakerID)
}

// Announcement 一条主动播报
type Announcement struct {
	ID      string          `json:"id"`
	Persona types.SpeakerID `json:"persona"`
	Text    string          `json:"text"`
	// Split 为 true 时分块逐轮播报，否则压缩成一轮
	Split bool `json:"split"`
	// Intent 播报结束后在 IntentWindow 内保持有效的意图标签
	Intent string `json:"intent,omitempty"`
}

// Config 闸门配置
type Config struct {
	Compose          compose.Config `json:"compose" yaml:"compose"`
	BlockDirectAudio time.Duration  `json:"block_direct_audio" yaml:"block_direct_audio"`
	ChunkTimeout     time.Duration  `json:"chunk_timeout" yaml:"chunk_timeout"`
	IntentWindow     time.Duration  `json:"intent_window" yaml:"intent_window"`
}

// DefaultConfig 返回默认闸门配置
func DefaultConfig() Config {
	return Config{
		Compose:          compose.DefaultConfig(),
		BlockDirectAudio: 2 * time.Second,
		ChunkTimeout:     20 * time.Second,
		IntentWindow:     30 * time.Second,
	}
}

// State 闸门状态，每个播报周期开始与结束时重置
type State struct {
	Active                bool
	ContextSent           bool
	Target                types.SpeakerID
	RequestedAt           time.Time
	BlockDirectAudioUntil time.Time
	ForcedIntentTurn      string
	TransitGateUntil      time.Time
	// Forwarded 当前块已送达客户端的音频片段数
	Forwarded int
}

// Option 闸门选项
type Option func(*Gate)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option { return func(g *Gate) { g.logger = l } }

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option { return func(g *Gate) { g.metrics = m } }

// WithClock 注入时钟
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithFloor 设置仲裁器，未设置时播报不抢占发言权
func WithFloor(f Floor) Option { return func(g *Gate) { g.floor = f } }

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option { return func(g *Gate) { g.tracer = t } }

// Gate 响应闸门
type Gate struct {
	cfg     Config
	resolve Resolver
	floor   Floor
	now     func() time.Time
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *metrics.Collector

	// delivering 保证同一时刻只有一条播报
	delivering sync.Mutex

	mu       sync.Mutex
	state    State
	turnDone chan struct{}
}

// New 创建闸门
func New(cfg Config, resolve Resolver, opts ...Option) *Gate {
	def := DefaultConfig()
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	g := &Gate{cfg: cfg, resolve: resolve, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(instrumentationName)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.logger = g.logger.With(zap.String("component", "response_gate"))
	return g
}

// =============================================================================
// 📣 播报
// =============================================================================

// Deliver 把播报分块交给目标 persona，并逐块等待轮次结束
func (g *Gate) Deliver(ctx context.Context, a Announcement) (err error) {
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return types.NewError(types.ErrInvalidAnnouncement, "announcement text is empty")
	}
	target, ok := g.resolve(a.Persona)
	if !ok {
		return types.NewError(types.ErrUnknownPersona, fmt.Sprintf("unknown persona %q", a.Persona))
	}
	if !g.delivering.TryLock() {
		return types.NewError(types.ErrGateBusy, "another announcement is being delivered")
	}
	defer g.delivering.Unlock()

	chunks := compose.Plan(text, a.Split, g.cfg.Compose)

	ctx, span := g.tracer.Start(ctx, "gate.deliver", trace.WithAttributes(
		attribute.String("announcement.id", a.ID),
		attribute.String("persona", a.Persona.String()),
		attribute.Bool("split", a.Split),
		attribute.Int("chunks", len(chunks))))
	defer span.End()
	ctx = types.WithAnnouncementID(types.WithPersona(ctx, a.Persona), a.ID)

	logger := g.logger.With(zap.String("announcement_id", a.ID), zap.String("persona", a.Persona.String()))
	logger.Info("delivering announcement", zap.Int("chunks", len(chunks)))

	g.reset()
	defer func() {
		g.reset()
		status := StatusDelivered
		switch {
		case err == nil:
			g.setIntent(a.Intent)
		case types.IsErrorCode(err, types.ErrAnnouncementTimeout):
			status = StatusTimeout
		case types.IsErrorCode(err, types.ErrAnnouncementUnheard):
			status = StatusUnheard
		case ctx.Err() != nil:
			status = StatusCancelled
		default:
			status = StatusFailed
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("announcement aborted", zap.String("status", status), zap.Error(err))
		} else {
			logger.Info("announcement delivered")
		}
		g.metrics.RecordAnnouncement(a.Persona.String(), status)
	}()

	for i, chunk := range chunks {
		if err := g.deliverChunk(ctx, target, a.Persona, i, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) deliverChunk(ctx context.Context, target Target, persona types.SpeakerID, idx int, chunk string) error {
	_, span := g.tracer.Start(ctx, "gate.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", idx),
		attribute.Int("chunk.runes", len([]rune(chunk)))))
	defer span.End()

	done := g.open(persona)
	if g.floor != nil {
		g.floor.Seize(persona)
	}
	if err := target.Enqueue(types.NewTextContext(Instruction(chunk), true, true)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("enqueue announcement chunk %d: %w", idx, err)
	}
	g.mu.Lock()
	g.state.ContextSent = true
	g.mu.Unlock()
	g.metrics.RecordAnnouncementChunk(persona.String())
	if id, ok := types.AnnouncementID(ctx); ok {
		g.logger.Debug("announcement chunk sent",
			zap.String("announcement_id", id),
			zap.String("persona", persona.String()),
			zap.Int("chunk", idx))
	}

	timer := time.NewTimer(g.cfg.ChunkTimeout)
	defer timer.Stop()

	select {
	case <-done:
		g.mu.Lock()
		forwarded := g.state.Forwarded
		g.mu.Unlock()
		if forwarded == 0 {
			err := types.NewError(types.ErrAnnouncementUnheard,
				fmt.Sprintf("chunk %d completed without reaching the client", idx)).WithPersona(persona)
			span.RecordError(err)
			return err
		}
		span.SetAttributes(attribute.Int("chunk.fragments", forwarded))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		err := types.NewError(types.ErrAnnouncementTimeout,
			fmt.Sprintf("chunk %d not completed within %s", idx, g.cfg.ChunkTimeout)).WithPersona(persona)
		span.RecordError(err)
		return err
	}
}

// Instruction 把一块播报包装成“照读并停止”的指令
func Instruction(chunk string) string {
	return "[Announcement] Say exactly the following to the user, then stop:\n" + chunk
}

// open 为下一块打开闸门，返回该块的完成信号
func (g *Gate) open(persona types.SpeakerID) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.state.Active = true
	g.state.ContextSent = false
	g.state.Target = persona
	g.state.RequestedAt = now
	g.state.BlockDirectAudioUntil = now.Add(g.cfg.BlockDirectAudio)
	g.state.Forwarded = 0
	g.turnDone = make(chan struct{})
	return g.turnDone
}

// reset 清空闸门状态（包括强制意图）
func (g *Gate) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{}
	g.turnDone = nil
}

func (g *Gate) setIntent(intent string) {
	if intent == "" || g.cfg.IntentWindow <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.ForcedIntentTurn = intent
	g.state.TransitGateUntil = g.now().Add(g.cfg.IntentWindow)
}

// =============================================================================
// 🚦 worker 查询
// =============================================================================

// AllowFragment 闸门打开且处于屏蔽窗口内时，拒绝请求之前就已开始的模型轮次
func (g *Gate) AllowFragment(_ types.SpeakerID, turnStarted time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Active || !g.now().Before(g.state.BlockDirectAudioUntil) {
		return true
	}
	return !turnStarted.Before(g.state.RequestedAt)
}

// IsDirected 报告该轮次是否是对 who 当前播报的回应
func (g *Gate) IsDirected(who types.SpeakerID, turnStarted time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Active && g.state.Target == who && !turnStarted.Before(g.state.RequestedAt)
}

// NotifyForwarded 记录目标 persona 的播报音频已送达客户端
func (g *Gate) NotifyForwarded(who types.SpeakerID, turnStarted time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Active && g.state.Target == who && !turnStarted.Before(g.state.RequestedAt) {
		g.state.Forwarded++
	}
}

// NotifyTurnComplete 目标 persona 在请求之后开始的轮次结束时，当前块视为完成
func (g *Gate) NotifyTurnComplete(who types.SpeakerID, turnStarted time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Active || g.state.Target != who || g.turnDone == nil {
		return
	}
	if turnStarted.Before(g.state.RequestedAt) {
		g.logger.Debug("ignoring completion of stale turn", zap.String("persona", who.String()))
		return
	}
	close(g.turnDone)
	g.turnDone = nil
}

// ForcedIntent 返回仍在有效窗口内的强制意图
func (g *Gate) ForcedIntent(now time.Time) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.ForcedIntentTurn == "" || !now.Before(g.state.TransitGateUntil) {
		return "", false
	}
	return g.state.ForcedIntentTurn, true
}

// State 返回闸门状态副本
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
