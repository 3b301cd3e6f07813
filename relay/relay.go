package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/transcript"
	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// CeilingInstruction 计数器达到上限时附加给同伴的指令
const CeilingInstruction = "You have exchanged enough turns with each other. Stop debating and wait for the user to speak."

// Target 可接收转述的收件箱
type Target interface {
	Enqueue(msg types.InboxMessage) error
}

// Config 转述配置
type Config struct {
	// TurnCeiling 用户两次发言之间 persona 连续转述的上限
	TurnCeiling int `json:"turn_ceiling" yaml:"turn_ceiling"`
	// PromptPeers 为 true 时转述会要求同伴回应（complete_turn）
	PromptPeers      bool            `json:"prompt_peers" yaml:"prompt_peers"`
	DefaultPrimary   types.SpeakerID `json:"default_primary" yaml:"default_primary"`
	QuestionSuffixes []string        `json:"question_suffixes" yaml:"question_suffixes"`
}

// DefaultConfig 返回默认转述配置
func DefaultConfig() Config {
	return Config{
		TurnCeiling:      3,
		PromptPeers:      true,
		QuestionSuffixes: DefaultQuestionSuffixes,
	}
}

// Option 转述器选项
type Option func(*Relay)

// WithAddressPredicate 替换称呼检测
func WithAddressPredicate(fn AddressPredicate) Option { return func(r *Relay) { r.addressed = fn } }

// WithQuestionPredicate 替换提问检测
func WithQuestionPredicate(fn QuestionPredicate) Option { return func(r *Relay) { r.question = fn } }

// WithStore 设置转写存储
func WithStore(s transcript.Store) Option { return func(r *Relay) { r.store = s } }

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option { return func(r *Relay) { r.logger = l } }

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option { return func(r *Relay) { r.metrics = m } }

// WithClock 注入时钟
func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

// Relay 跨角色上下文转述器
type Relay struct {
	cfg      Config
	arbiter  floor.Arbiter
	personas []types.Persona
	byID     map[types.SpeakerID]types.Persona

	addressed AddressPredicate
	question  QuestionPredicate
	store     transcript.Store
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu      sync.Mutex
	targets map[types.SpeakerID]Target
	counter int
	primary types.SpeakerID
	lastAI  types.SpeakerID
}

// New 创建转述器
func New(cfg Config, arbiter floor.Arbiter, personas []types.Persona, opts ...Option) *Relay {
	r := &Relay{
		cfg:      cfg,
		arbiter:  arbiter,
		personas: personas,
		byID:     make(map[types.SpeakerID]types.Persona, len(personas)),
		targets:  make(map[types.SpeakerID]Target, len(personas)),
		primary:  cfg.DefaultPrimary,
		now:      time.Now,
	}
	for _, p := range personas {
		r.byID[p.ID] = p
	}
	// 未配置（或配置了未知的）主答时由第一位 persona 担任
	if _, ok := r.byID[r.primary]; !ok && len(personas) > 0 {
		r.primary = personas[0].ID
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.addressed == nil {
		r.addressed = MentionIndex
	}
	if r.question == nil {
		r.question = EndsWithQuestion(cfg.QuestionSuffixes)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "relay"))
	return r
}

// Register 登记 persona 的收件箱
func (r *Relay) Register(id types.SpeakerID, t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = t
}

// =============================================================================
// 🗣️ 用户发言
// =============================================================================

// OnUserUtterance 处理用户的完整发言：计数器归零、发言权交给用户、更新主答 persona
func (r *Relay) OnUserUtterance(ctx context.Context, text string) {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	r.counter = 0
	if p, ok := r.mentioned(text); ok {
		r.primary = p
	}
	primary := r.primary
	r.mu.Unlock()

	r.arbiter.SetUserTurn()
	r.logger.Debug("user utterance", zap.String("primary", primary.String()))

	if text != "" {
		r.record(ctx, types.SpeakerUser, text)
	}
}

// mentioned 返回文本中最先被称呼的 persona
func (r *Relay) mentioned(text string) (types.SpeakerID, bool) {
	best, at := types.SpeakerNone, -1
	for _, p := range r.personas {
		if i := r.addressed(text, p); i >= 0 && (at < 0 || i < at) {
			best, at = p.ID, i
		}
	}
	return best, at >= 0
}

// =============================================================================
// 🤖 persona 发言
// =============================================================================

// OnPersonaUtterance 把 who 的完整发言转述给其他 persona
func (r *Relay) OnPersonaUtterance(ctx context.Context, who types.SpeakerID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	r.counter++
	count := r.counter
	targets := make(map[types.SpeakerID]Target, len(r.targets))
	for id, t := range r.targets {
		if id != who {
			targets[id] = t
		}
	}
	r.mu.Unlock()

	r.record(ctx, who, text)

	asked := r.question(text)
	if asked {
		r.arbiter.MarkPendingQuestion(who)
	}

	atCeiling := r.cfg.TurnCeiling > 0 && count >= r.cfg.TurnCeiling
	msg := fmt.Sprintf("Peer(%s) said: %q", r.displayName(who), text)
	if atCeiling {
		msg += "\n" + CeilingInstruction
		r.arbiter.SetWaitingForUser()
		r.metrics.RecordLoopCeiling()
		r.logger.Info("agent turn ceiling reached", zap.Int("count", count))
	}
	complete := r.cfg.PromptPeers && !atCeiling && !asked

	for id, t := range targets {
		if err := t.Enqueue(types.NewTextContext(msg, true, complete)); err != nil {
			r.logger.Warn("cross relay enqueue failed",
				zap.String("to", id.String()),
				zap.Error(err))
		}
	}
	r.metrics.RecordCrossRelay(who.String())
}

func (r *Relay) record(ctx context.Context, who types.SpeakerID, text string) {
	if r.store == nil {
		return
	}
	if err := r.store.Append(ctx, transcript.Entry{Speaker: who, Text: text, At: r.now()}); err != nil {
		r.logger.Warn("transcript append failed", zap.Error(err))
	}
}

func (r *Relay) displayName(id types.SpeakerID) string {
	if p, ok := r.byID[id]; ok {
		return p.DisplayName()
	}
	return id.String()
}

// =============================================================================
// 🔍 状态
// =============================================================================

// ShouldYield 用户刚说完且还没有 persona 回应时，非主答 persona 让出首答
func (r *Relay) ShouldYield(who types.SpeakerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter == 0 && r.primary != types.SpeakerNone && who != r.primary
}

// MarkSpoke 记录最近一次出声的 persona
func (r *Relay) MarkSpoke(who types.SpeakerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAI = who
}

// LastAISpeaker 最近一次出声的 persona
func (r *Relay) LastAISpeaker() types.SpeakerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAI
}

// Primary 当前主答 persona
func (r *Relay) Primary() types.SpeakerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// Counter 当前 AI 连续转述计数
func (r *Relay) Counter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}
