package persona

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/realtime"
	"github.com/BaSui01/voicefloor/transcript"
	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🔌 协作者接口
// =============================================================================

// ClientRelay 把某个发言者的音频送往终端用户
type ClientRelay interface {
	SendAudio(ctx context.Context, speaker types.SpeakerID, audio []byte) error
}

// ToolExecutor 执行模型发起的工具调用，失败时返回带错误标记的结果而不是 error
type ToolExecutor interface {
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
}

// Relay 是 worker 看到的跨角色转述器
type Relay interface {
	// ShouldYield 报告 who 是否应把首答让给主答 persona
	ShouldYield(who types.SpeakerID) bool
	// MarkSpoke 记录最近一次真正出声的 persona
	MarkSpoke(who types.SpeakerID)
	// OnPersonaUtterance 处理 persona 的一段完整发言
	OnPersonaUtterance(ctx context.Context, who types.SpeakerID, text string)
}

// Gate 是 worker 看到的播报闸门
type Gate interface {
	// AllowFragment 在播报窗口内拒绝播报请求之前开始的模型轮次
	AllowFragment(who types.SpeakerID, turnStarted time.Time) bool
	// IsDirected 报告该轮次是否是发给 who 的播报
	IsDirected(who types.SpeakerID, turnStarted time.Time) bool
	// NotifyForwarded 报告播报轮次的音频已送达客户端
	NotifyForwarded(who types.SpeakerID, turnStarted time.Time)
	NotifyTurnComplete(who types.SpeakerID, turnStarted time.Time)
}

// History 提供重连后回放的最近转写
type History interface {
	Recent(ctx context.Context, n int) ([]transcript.Entry, error)
}

// =============================================================================
// ⚙️ 配置与状态
// =============================================================================

// State 连接生命周期状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateBackoff      State = "backoff"
	StateShuttingDown State = "shutting_down"
)

// Config worker 配置
type Config struct {
	ReconnectBackoff  time.Duration `json:"reconnect_backoff" yaml:"reconnect_backoff"`
	InboxCapacity     int           `json:"inbox_capacity" yaml:"inbox_capacity"`
	CloseTimeout      time.Duration `json:"close_timeout" yaml:"close_timeout"`
	ToolTimeout       time.Duration `json:"tool_timeout" yaml:"tool_timeout"`
	HistoryPrimeCount int           `json:"history_prime_count" yaml:"history_prime_count"`
	// HistoryNames 回放历史时把 SpeakerID 换成显示名
	HistoryNames map[types.SpeakerID]string `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认 worker 配置
func DefaultConfig() Config {
	return Config{
		ReconnectBackoff:  2 * time.Second,
		InboxCapacity:     DefaultInboxCapacity,
		CloseTimeout:      3 * time.Second,
		ToolTimeout:       10 * time.Second,
		HistoryPrimeCount: 10,
	}
}

// Option worker 选项
type Option func(*Worker)

// WithRelay 设置跨角色转述器
func WithRelay(r Relay) Option { return func(w *Worker) { w.relay = r } }

// WithGate 设置播报闸门
func WithGate(g Gate) Option { return func(w *Worker) { w.gate = g } }

// WithTools 设置工具执行器
func WithTools(t ToolExecutor) Option { return func(w *Worker) { w.tools = t } }

// WithHistory 设置重连回放的历史来源
func WithHistory(h History) Option { return func(w *Worker) { w.history = h } }

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option { return func(w *Worker) { w.metrics = m } }

// =============================================================================
// 🎙️ Worker
// =============================================================================

// Worker 维持一个 persona 的远端连接，并经由收件箱与仲裁器中转全部流量
type Worker struct {
	persona types.Persona
	cfg     Config
	dialer  realtime.Dialer
	arbiter floor.Arbiter
	client  ClientRelay
	inbox   *Inbox

	relay   Relay
	gate    Gate
	tools   ToolExecutor
	history History
	logger  *zap.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	state      State
	connects   int
	turnStart  time.Time
	transcript strings.Builder
}

// NewWorker 创建 worker
func NewWorker(p types.Persona, dialer realtime.Dialer, arbiter floor.Arbiter, client ClientRelay, cfg Config, opts ...Option) *Worker {
	def := DefaultConfig()
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}

	w := &Worker{
		persona: p,
		cfg:     cfg,
		dialer:  dialer,
		arbiter: arbiter,
		client:  client,
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.With(zap.String("component", "persona_worker"), zap.String("persona", p.ID.String()))
	w.inbox = NewInbox(p.ID, cfg.InboxCapacity, w.logger, w.metrics)
	return w
}

// ID 返回 persona ID
func (w *Worker) ID() types.SpeakerID { return w.persona.ID }

// Persona 返回 persona 描述
func (w *Worker) Persona() types.Persona { return w.persona }

// Inbox 返回收件箱
func (w *Worker) Inbox() *Inbox { return w.inbox }

// Enqueue 投递一条消息
func (w *Worker) Enqueue(msg types.InboxMessage) error { return w.inbox.Push(msg) }

// State 返回当前连接状态
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	if prev != s {
		w.logger.Debug("state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
	w.metrics.SetConnected(w.persona.ID.String(), s == StateConnected)
}

// Run 运行重连循环，直到 ctx 结束。只在关闭时返回。
func (w *Worker) Run(ctx context.Context) error {
	defer w.inbox.Close()

	for {
		err := w.runSession(ctx)
		if ctx.Err() != nil {
			w.setState(StateShuttingDown)
			w.logger.Info("worker stopped")
			return nil
		}

		w.setState(StateError)
		w.logger.Warn("session ended, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", w.cfg.ReconnectBackoff))
		w.abandonTurn()

		w.setState(StateBackoff)
		select {
		case <-ctx.Done():
			w.setState(StateShuttingDown)
			w.logger.Info("worker stopped")
			return nil
		case <-time.After(w.cfg.ReconnectBackoff):
		}
		w.metrics.RecordReconnect(w.persona.ID.String())
	}
}

// runSession 建立一条连接并运行 sender / receiver，任一方退出即返回。
func (w *Worker) runSession(ctx context.Context) error {
	w.setState(StateConnecting)
	sess, err := w.dialer.Dial(ctx, w.persona)
	if err != nil {
		return err
	}
	defer w.closeSession(sess)

	w.mu.Lock()
	w.connects++
	reconnect := w.connects > 1
	w.mu.Unlock()

	w.setState(StateConnected)
	w.logger.Info("session connected", zap.Bool("reconnect", reconnect))

	if reconnect {
		w.primeHistory(ctx, sess)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.guard("sender", func() error { return w.sendLoop(gctx, sess) }) })
	g.Go(func() error { return w.guard("receiver", func() error { return w.receiveLoop(gctx, sess) }) })
	return g.Wait()
}

// guard 把 panic 转换为会话错误，保证一个 persona 的故障不会波及其他 persona
func (w *Worker) guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered panic", zap.String("loop", name), zap.Any("panic", r))
			err = types.NewError(types.ErrReceiveFailed, fmt.Sprintf("%s panic: %v", name, r)).
				WithRetryable(true).WithPersona(w.persona.ID)
		}
	}()
	return fn()
}

// closeSession 在限定时间内关闭会话，不让卡住的网络调用阻塞关闭流程
func (w *Worker) closeSession(sess realtime.Session) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Close(); err != nil {
			w.logger.Debug("session close error", zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.CloseTimeout):
		w.logger.Warn("session close timed out", zap.Duration("timeout", w.cfg.CloseTimeout))
	}
	w.setState(StateDisconnected)
}

func (w *Worker) primeHistory(ctx context.Context, sess realtime.Session) {
	if w.history == nil || w.cfg.HistoryPrimeCount <= 0 {
		return
	}
	entries, err := w.history.Recent(ctx, w.cfg.HistoryPrimeCount)
	if err != nil {
		w.logger.Warn("failed to load history for priming", zap.Error(err))
		return
	}
	text := transcript.FormatHistory(entries, w.cfg.HistoryNames)
	if text == "" {
		return
	}
	if err := sess.SendText(ctx, text, false); err != nil {
		w.logger.Warn("failed to prime history", zap.Error(err))
		return
	}
	w.logger.Debug("primed session with history", zap.Int("entries", len(entries)))
}

// =============================================================================
// 📤 Sender
// =============================================================================

func (w *Worker) sendLoop(ctx context.Context, sess realtime.Session) error {
	for {
		msg, err := w.inbox.Pop(ctx)
		if err != nil {
			return err
		}
		if err := w.send(ctx, sess, msg); err != nil {
			w.logger.Warn("send failed",
				zap.String("kind", string(msg.Kind)),
				zap.Error(err))
			w.inbox.Requeue(msg)
			return err
		}
	}
}

func (w *Worker) send(ctx context.Context, sess realtime.Session, msg types.InboxMessage) error {
	switch msg.Kind {
	case types.MessageAudio:
		return sess.SendAudio(ctx, msg.Audio, msg.SampleRate)
	case types.MessageTextContext:
		return sess.SendText(ctx, msg.Text, msg.CompleteTurn)
	case types.MessageToolResult:
		if msg.ToolResult == nil {
			return nil
		}
		return sess.SendToolResult(ctx, *msg.ToolResult)
	default:
		w.logger.Warn("skipping unknown inbox message", zap.String("kind", string(msg.Kind)))
		return nil
	}
}

// =============================================================================
// 📥 Receiver
// =============================================================================

func (w *Worker) receiveLoop(ctx context.Context, sess realtime.Session) error {
	for {
		f, err := sess.Receive(ctx)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		w.handleFrame(ctx, f)
	}
}

func (w *Worker) handleFrame(ctx context.Context, f *types.Frame) {
	switch f.Kind {
	case types.FrameAudio:
		started := w.markTurn(f.Received)
		w.forward(ctx, f.Audio, started)
	case types.FrameText:
		w.markTurn(f.Received)
		w.mu.Lock()
		w.transcript.WriteString(f.Text)
		w.mu.Unlock()
	case types.FrameTurnComplete:
		w.completeTurn(ctx, f.Received)
	case types.FrameInterrupted:
		w.takeTurn()
		if w.holdsTurn() {
			w.arbiter.Release(w.persona.ID)
		}
	case types.FrameToolCall:
		if f.ToolCall != nil {
			w.executeTool(ctx, *f.ToolCall)
		}
	}
}

// markTurn 在模型轮次的第一帧记录开始时间，返回该轮次的开始时间
func (w *Worker) markTurn(at time.Time) time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.turnStart.IsZero() {
		w.turnStart = at
	}
	return w.turnStart
}

// takeTurn 结束当前模型轮次，返回其开始时间与缓冲的转写
func (w *Worker) takeTurn() (time.Time, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	started := w.turnStart
	text := strings.TrimSpace(w.transcript.String())
	w.turnStart = time.Time{}
	w.transcript.Reset()
	return started, text
}

func (w *Worker) holdsTurn() bool {
	s := w.arbiter.Snapshot()
	return s.CurrentSpeaker == w.persona.ID && s.Spoke
}

// forward 依次经过闸门、首答保护与仲裁，全部通过才把片段交给客户端
func (w *Worker) forward(ctx context.Context, audio []byte, turnStarted time.Time) {
	id := w.persona.ID

	directed := false
	if w.gate != nil {
		if !w.gate.AllowFragment(id, turnStarted) {
			w.drop(metrics.DropStale)
			return
		}
		directed = w.gate.IsDirected(id, turnStarted)
	}

	if !directed && w.relay != nil && w.arbiter.Mode() == floor.ModeFree && w.relay.ShouldYield(id) {
		w.drop(metrics.DropDoubleSpeak)
		return
	}

	if !w.arbiter.TryAcquire(id) {
		w.drop(metrics.DropArbitration)
		return
	}

	if w.relay != nil {
		w.relay.MarkSpoke(id)
	}
	if err := w.client.SendAudio(ctx, id, audio); err != nil {
		w.drop(metrics.DropClientError)
		w.logger.Debug("client relay rejected audio", zap.Error(err))
		return
	}
	if directed {
		w.gate.NotifyForwarded(id, turnStarted)
	}
}

func (w *Worker) drop(reason string) {
	w.metrics.RecordFragmentDropped(w.persona.ID.String(), reason)
}

// completeTurn 处理模型的轮次结束信号：持有发言权时先转述发言再释放。
// 顺序模式下轮到自己的 persona 即使没有出声也要推进轮转。
func (w *Worker) completeTurn(ctx context.Context, at time.Time) {
	started, text := w.takeTurn()
	if started.IsZero() {
		started = at
	}

	s := w.arbiter.Snapshot()
	mine := s.CurrentSpeaker == w.persona.ID
	heard := mine && s.Spoke
	switch {
	case heard:
		if text != "" && w.relay != nil {
			w.relay.OnPersonaUtterance(ctx, w.persona.ID, text)
		}
		w.arbiter.Release(w.persona.ID)
	case mine && w.arbiter.Mode() == floor.ModeSequential && !started.Before(s.LastTransition):
		w.logger.Debug("advancing silent rotation slot")
		w.arbiter.Release(w.persona.ID)
	case text != "":
		w.logger.Debug("discarding transcript of unheard turn", zap.Int("chars", len(text)))
	}

	if w.gate != nil {
		w.gate.NotifyTurnComplete(w.persona.ID, started)
	}
}

// FlushTranscript 由看门狗在回收发言权后调用，把已缓冲的转写作为完整发言转述出去
func (w *Worker) FlushTranscript(ctx context.Context) {
	w.mu.Lock()
	text := strings.TrimSpace(w.transcript.String())
	w.transcript.Reset()
	w.mu.Unlock()

	if text == "" || w.relay == nil {
		return
	}
	w.relay.OnPersonaUtterance(ctx, w.persona.ID, text)
}

// abandonTurn 在连接失败后清理本地轮次，并归还自己持有的发言权
func (w *Worker) abandonTurn() {
	w.takeTurn()
	if w.holdsTurn() {
		w.arbiter.Release(w.persona.ID)
	}
}

func (w *Worker) executeTool(ctx context.Context, call types.ToolCall) {
	var result types.ToolResult
	if w.tools == nil {
		result = types.NewToolErrorResult(call, types.NewError(types.ErrToolNotFound, "no tools available"))
	} else {
		tctx, cancel := context.WithTimeout(types.WithPersona(ctx, w.persona.ID), w.cfg.ToolTimeout)
		result = w.tools.Execute(tctx, call)
		cancel()
	}
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.Name == "" {
		result.Name = call.Name
	}

	if err := w.inbox.Push(types.NewToolResultMessage(result)); err != nil {
		w.logger.Warn("failed to enqueue tool result", zap.String("tool", call.Name), zap.Error(err))
	}
}
