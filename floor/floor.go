package floor

import (
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// Mode 仲裁模式
type Mode string

const (
	ModeFree       Mode = "free"
	ModeSequential Mode = "sequential"
)

// ReclaimReason 看门狗回收原因
type ReclaimReason string

const (
	ReasonSilence     ReclaimReason = "silence"
	ReasonStall       ReclaimReason = "stall"
	ReasonUserSilence ReclaimReason = "user_silence"
)

// Config 仲裁配置
type Config struct {
	Mode                  Mode          `json:"mode" yaml:"mode"`
	SilenceThreshold      time.Duration `json:"silence_threshold" yaml:"silence_threshold"`
	UserSilenceRelease    time.Duration `json:"user_silence_release" yaml:"user_silence_release"`
	TickInterval          time.Duration `json:"tick_interval" yaml:"tick_interval"`
	StallTimeout          time.Duration `json:"stall_timeout" yaml:"stall_timeout"`
	AwaitAnswerOnQuestion bool          `json:"await_answer_on_question" yaml:"await_answer_on_question"`
}

// DefaultConfig 返回默认仲裁配置
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeFree,
		SilenceThreshold:      1500 * time.Millisecond,
		UserSilenceRelease:    1500 * time.Millisecond,
		TickInterval:          100 * time.Millisecond,
		StallTimeout:          18 * time.Second,
		AwaitAnswerOnQuestion: true,
	}
}

// TurnState 是发言权的共享状态，只由 actor goroutine 修改。
// 对外只通过 Snapshot 暴露副本。
type TurnState struct {
	CurrentSpeaker  types.SpeakerID
	LastTransition  time.Time
	LastSpeech      time.Time
	WaitingForUser  bool
	PendingQuestion bool

	// 顺序模式
	Rotation []types.SpeakerID
	Index    int
	// Spoke 当前持有者自获得发言权以来是否输出过音频
	Spoke bool
}

// Reclaim 是一次看门狗回收的结果
type Reclaim struct {
	Speaker types.SpeakerID
	Reason  ReclaimReason
	// Next 顺序模式下回收后轮到的发言者
	Next types.SpeakerID
}

// Arbiter 发言权仲裁器
type Arbiter interface {
	Mode() Mode

	// TryAcquire 申请（或续期）发言权。
	TryAcquire(who types.SpeakerID) bool
	// Release 仅当 who 是当前持有者时释放。顺序模式下等价于推进。
	Release(who types.SpeakerID) bool
	// ForceRelease 无条件清除持有者并丢弃其待答问题标记，返回原持有者。
	// 不会进入 waitingForUser。
	ForceRelease() types.SpeakerID
	// Advance 推进到下一位发言者并返回之。自由模式下等价于 ForceRelease。
	Advance() types.SpeakerID
	// SetUserTurn 用户开口：无条件把发言权交给用户并清除等待标记。
	SetUserTurn()
	// SetWaitingForUser 禁止任何 persona 获得发言权，直到用户再次开口。
	SetWaitingForUser()
	// Seize 供主动播报使用：把发言权直接交给 who，并清除等待与待答标记。
	// 之后用户开口仍然可以抢占。
	Seize(who types.SpeakerID)
	// MarkPendingQuestion 标记 who 的发言以提问结束。
	MarkPendingQuestion(who types.SpeakerID)
	// Reclaim 由看门狗调用，回收静默或卡死的发言权。
	Reclaim(now time.Time) (Reclaim, bool)

	Snapshot() TurnState
	Close()
}

// Option 仲裁器选项
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// New 按配置创建仲裁器。personas 决定顺序模式的轮转顺序。
func New(cfg Config, personas []types.SpeakerID, opts ...Option) (Arbiter, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	switch cfg.Mode {
	case ModeFree, "":
		return newFreeArbiter(cfg, o), nil
	case ModeSequential:
		if len(personas) == 0 {
			return nil, types.NewError(types.ErrInvalidConfig, "sequential mode requires at least one persona")
		}
		return newSequentialArbiter(cfg, personas, o), nil
	default:
		return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown floor mode %q", cfg.Mode))
	}
}

// =============================================================================
// 🎭 actor：独占 TurnState 的 goroutine
// =============================================================================

type actor struct {
	state     TurnState
	reqs      chan func(*TurnState)
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func newActor(o options, component string) *actor {
	a := &actor{
		reqs:    make(chan func(*TurnState)),
		done:    make(chan struct{}),
		now:     o.now,
		logger:  o.logger.With(zap.String("component", component)),
		metrics: o.metrics,
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	for {
		select {
		case fn := <-a.reqs:
			fn(&a.state)
		case <-a.done:
			return
		}
	}
}

// do 把 fn 交给 actor 执行并等待完成。actor 已关闭时返回 false。
func (a *actor) do(fn func(s *TurnState, now time.Time)) bool {
	finished := make(chan struct{})
	req := func(s *TurnState) {
		fn(s, a.now())
		close(finished)
	}
	select {
	case a.reqs <- req:
	case <-a.done:
		return false
	}
	<-finished
	return true
}

func (a *actor) snapshot() TurnState {
	var out TurnState
	a.do(func(s *TurnState, _ time.Time) {
		out = *s
		out.Rotation = append([]types.SpeakerID(nil), s.Rotation...)
	})
	return out
}

// Close 停止 actor。之后的申请一律被拒绝。
func (a *actor) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *actor) recordDecision(who types.SpeakerID, granted bool) {
	a.metrics.RecordTurnDecision(who.String(), granted)
	if !granted {
		a.logger.Debug("turn denied", zap.String("speaker", who.String()))
	}
}
