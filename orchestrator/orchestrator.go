package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/gate"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/realtime"
	"github.com/BaSui01/voicefloor/relay"
	"github.com/BaSui01/voicefloor/transcript"
	"github.com/BaSui01/voicefloor/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// userDisplayName 回放历史时用户的显示名
const userDisplayName = "User"

// Option 对话选项
type Option func(*Orchestrator)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithTools 设置工具执行器
func WithTools(t persona.ToolExecutor) Option { return func(o *Orchestrator) { o.tools = t } }

// WithStore 使用外部转写存储，替代按配置新建的存储
func WithStore(s transcript.Store) Option { return func(o *Orchestrator) { o.store = s } }

// WithVoiceActivity 替换人声检测
func WithVoiceActivity(v VoiceActivity) Option { return func(o *Orchestrator) { o.vad = v } }

// WithConversationID 指定对话 ID，缺省生成 UUID
func WithConversationID(id string) Option { return func(o *Orchestrator) { o.id = id } }

// WithRelayOptions 追加转述器选项（例如替换称呼或提问检测）
func WithRelayOptions(opts ...relay.Option) Option {
	return func(o *Orchestrator) { o.relayOpts = append(o.relayOpts, opts...) }
}

// =============================================================================
// 🎼 Orchestrator
// =============================================================================

// Orchestrator 一场多 persona 语音对话
type Orchestrator struct {
	id       string
	cfg      Config
	personas []types.Persona

	arbiter   floor.Arbiter
	relay     *relay.Relay
	gate      *gate.Gate
	scheduler *gate.Scheduler
	watchdog  *floor.Watchdog
	workers   []*persona.Worker
	byID      map[types.SpeakerID]*persona.Worker

	store     transcript.Store
	tools     persona.ToolExecutor
	vad       VoiceActivity
	relayOpts []relay.Option
	logger    *zap.Logger
	metrics   *metrics.Collector

	started atomic.Bool
}

// New 装配一场对话。personas 不能为空，ID 不能重复。
func New(personas []types.Persona, dialer realtime.Dialer, client persona.ClientRelay, cfg Config, opts ...Option) (*Orchestrator, error) {
	if len(personas) == 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "at least one persona is required")
	}
	if dialer == nil || client == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "dialer and client relay are required")
	}

	o := &Orchestrator{
		cfg:      cfg,
		personas: personas,
		byID:     make(map[types.SpeakerID]*persona.Worker, len(personas)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"), zap.String("conversation_id", o.id))
	if o.vad == nil {
		threshold := cfg.VoiceThreshold
		if threshold <= 0 {
			threshold = DefaultVoiceThreshold
		}
		o.vad = RMSActivity(threshold)
	}

	ids := make([]types.SpeakerID, 0, len(personas))
	names := map[types.SpeakerID]string{types.SpeakerUser: userDisplayName}
	for _, p := range personas {
		if !p.ID.IsPersona() {
			return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("invalid persona id %q", p.ID))
		}
		if _, dup := names[p.ID]; dup {
			return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("duplicate persona id %q", p.ID))
		}
		ids = append(ids, p.ID)
		names[p.ID] = p.DisplayName()
	}

	if o.store == nil {
		store, err := transcript.New(cfg.Transcript, o.id, o.logger)
		if err != nil {
			return nil, fmt.Errorf("create transcript store: %w", err)
		}
		o.store = store
	}

	arbiter, err := floor.New(cfg.Floor, ids, floor.WithLogger(o.logger), floor.WithMetrics(o.metrics))
	if err != nil {
		_ = o.store.Close()
		return nil, err
	}
	o.arbiter = arbiter

	relayOpts := append([]relay.Option{
		relay.WithStore(o.store),
		relay.WithLogger(o.logger),
		relay.WithMetrics(o.metrics),
	}, o.relayOpts...)
	o.relay = relay.New(cfg.Relay, arbiter, personas, relayOpts...)

	o.gate = gate.New(cfg.Gate, o.resolve,
		gate.WithFloor(arbiter),
		gate.WithLogger(o.logger),
		gate.WithMetrics(o.metrics))
	o.scheduler = gate.NewScheduler(o.gate, cfg.Scheduler, o.logger)
	o.scheduler.OnResult = o.onAnnouncementResult

	wcfg := cfg.Worker
	wcfg.HistoryNames = names
	for _, p := range personas {
		w := persona.NewWorker(p, dialer, arbiter, client, wcfg,
			persona.WithRelay(o.relay),
			persona.WithGate(o.gate),
			persona.WithTools(o.tools),
			persona.WithHistory(o.store),
			persona.WithLogger(o.logger),
			persona.WithMetrics(o.metrics),
		)
		o.workers = append(o.workers, w)
		o.byID[p.ID] = w
		o.relay.Register(p.ID, w)
	}

	o.watchdog = floor.NewWatchdog(arbiter, cfg.Floor.TickInterval, o.onReclaim, o.logger, o.metrics)
	return o, nil
}

func (o *Orchestrator) resolve(id types.SpeakerID) (gate.Target, bool) {
	w, ok := o.byID[id]
	return w, ok
}

// onReclaim 看门狗回收 persona 的发言权后，把它缓冲的转写作为完整发言转述
func (o *Orchestrator) onReclaim(ctx context.Context, r floor.Reclaim) {
	if w, ok := o.byID[r.Speaker]; ok {
		w.FlushTranscript(ctx)
	}
}

func (o *Orchestrator) onAnnouncementResult(a gate.Announcement, err error) {
	if err != nil {
		o.logger.Warn("scheduled announcement failed",
			zap.String("announcement_id", a.ID),
			zap.String("persona", a.Persona.String()),
			zap.Error(err))
	}
}

// Run 运行全部 worker、看门狗与播报调度器，直到 ctx 结束。只能调用一次。
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator %s already started", o.id)
	}
	defer o.shutdown()
	if _, ok := types.SessionID(ctx); !ok {
		ctx = types.WithSessionID(ctx, o.id)
	}

	o.logger.Info("conversation started",
		zap.Int("personas", len(o.workers)),
		zap.String("mode", string(o.arbiter.Mode())))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range o.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error { return o.watchdog.Run(gctx) })
	g.Go(func() error { return o.scheduler.Run(gctx) })

	err := g.Wait()
	o.logger.Info("conversation stopped")
	return err
}

func (o *Orchestrator) shutdown() {
	o.arbiter.Close()
	if err := o.store.Close(); err != nil {
		o.logger.Warn("failed to close transcript store", zap.Error(err))
	}
}

// =============================================================================
// 🎤 用户输入
// =============================================================================

// PushUserAudio 把一段客户端音频扇出到所有 persona 的收件箱；检测到人声时用户抢占发言权
func (o *Orchestrator) PushUserAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if o.vad(pcm) {
		o.arbiter.SetUserTurn()
	}
	for _, w := range o.workers {
		msg := types.NewAudioMessage(pcm, o.cfg.InputSampleRate)
		if err := w.Enqueue(msg); err != nil {
			o.logger.Debug("failed to enqueue user audio",
				zap.String("persona", w.ID().String()), zap.Error(err))
		}
	}
}

// OnFinalizedUtterance 处理语音识别给出的用户最终文本，随后释放用户的发言权
func (o *Orchestrator) OnFinalizedUtterance(ctx context.Context, text string) {
	o.relay.OnUserUtterance(ctx, text)
	o.arbiter.Release(types.SpeakerUser)
}

// =============================================================================
// 📢 播报
// =============================================================================

// Announce 立即经闸门播报，阻塞到播报结束
func (o *Orchestrator) Announce(ctx context.Context, a gate.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return o.gate.Deliver(types.WithAnnouncementID(ctx, a.ID), a)
}

// Submit 把播报交给调度器排队，返回播报 ID
func (o *Orchestrator) Submit(a gate.Announcement) (string, error) {
	if _, ok := o.byID[a.Persona]; !ok {
		return "", types.NewError(types.ErrUnknownPersona, fmt.Sprintf("unknown persona %q", a.Persona))
	}
	return o.scheduler.Submit(a)
}

// ForcedIntent 返回仍在有效窗口内的播报意图
func (o *Orchestrator) ForcedIntent() (string, bool) {
	return o.gate.ForcedIntent(time.Now())
}

// =============================================================================
// 🔍 状态
// =============================================================================

// Status 对话快照
type Status struct {
	ConversationID string                            `json:"conversation_id"`
	Mode           floor.Mode                        `json:"mode"`
	CurrentSpeaker types.SpeakerID                   `json:"current_speaker"`
	WaitingForUser bool                              `json:"waiting_for_user"`
	Primary        types.SpeakerID                   `json:"primary"`
	AITurns        int                               `json:"ai_turns"`
	Workers        map[types.SpeakerID]persona.State `json:"workers"`
	Announcing     bool                              `json:"announcing"`
	Pending        int                               `json:"pending_announcements"`
}

// ID 返回对话 ID
func (o *Orchestrator) ID() string { return o.id }

// Personas 返回参与对话的 persona
func (o *Orchestrator) Personas() []types.Persona { return o.personas }

// Status 返回当前对话状态
func (o *Orchestrator) Status() Status {
	snap := o.arbiter.Snapshot()
	st := Status{
		ConversationID: o.id,
		Mode:           o.arbiter.Mode(),
		CurrentSpeaker: snap.CurrentSpeaker,
		WaitingForUser: snap.WaitingForUser,
		Primary:        o.relay.Primary(),
		AITurns:        o.relay.Counter(),
		Workers:        make(map[types.SpeakerID]persona.State, len(o.workers)),
		Announcing:     o.gate.State().Active,
		Pending:        o.scheduler.Pending(),
	}
	for _, w := range o.workers {
		st.Workers[w.ID()] = w.State()
	}
	return st
}
