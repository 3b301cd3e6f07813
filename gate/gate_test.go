package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/voicefloor/testutil"
	"github.com/BaSui01/voicefloor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

// echoTarget 记录注入的指令；auto 不为空时模拟 persona 立即说完
type echoTarget struct {
	mu   sync.Mutex
	msgs []types.InboxMessage
	auto func(msg types.InboxMessage)
	err  error
}

func (e *echoTarget) Enqueue(m types.InboxMessage) error {
	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return e.err
	}
	e.msgs = append(e.msgs, m)
	auto := e.auto
	e.mu.Unlock()
	if auto != nil {
		go auto(m)
	}
	return nil
}

func (e *echoTarget) Messages() []types.InboxMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.InboxMessage(nil), e.msgs...)
}

func resolverFor(id types.SpeakerID, t Target) Resolver {
	return func(who types.SpeakerID) (Target, bool) {
		if who == id {
			return t, true
		}
		return nil, false
	}
}

// speak 模拟 persona 把一段音频送达客户端后说完
func speak(g *Gate, who types.SpeakerID, at time.Time) {
	g.NotifyForwarded(who, at)
	g.NotifyTurnComplete(who, at)
}

// recordingFloor 记录闸门夺取发言权的调用
type recordingFloor struct {
	mu     sync.Mutex
	seized []types.SpeakerID
}

func (f *recordingFloor) Seize(who types.SpeakerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seized = append(f.seized, who)
}

func (f *recordingFloor) Seized() []types.SpeakerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SpeakerID(nil), f.seized...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkTimeout = time.Second
	return cfg
}

// =============================================================================
// 🧪 Gate 测试
// =============================================================================

func TestGate_DeliverChunksInOrder(t *testing.T) {
	target := &echoTarget{}
	var g *Gate
	target.auto = func(types.InboxMessage) {
		time.Sleep(5 * time.Millisecond)
		speak(g, "aria", time.Now())
	}

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	g = New(testConfig(), resolverFor("aria", target), WithTracer(tp.Tracer("test")))

	err := g.Deliver(context.Background(), Announcement{
		ID:      "a1",
		Persona: "aria",
		Text:    "안녕하세요. 오늘 날씨는 맑습니다. 외출하기 좋은 날이에요.",
		Split:   true,
	})
	require.NoError(t, err)

	msgs := target.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Instruction("안녕하세요."), msgs[0].Text)
	assert.Equal(t, Instruction("오늘 날씨는 맑습니다."), msgs[1].Text)
	assert.Equal(t, Instruction("외출하기 좋은 날이에요."), msgs[2].Text)
	for _, m := range msgs {
		assert.True(t, m.SystemInjected)
		assert.True(t, m.CompleteTurn)
	}

	// 完成后状态被重置
	assert.Equal(t, State{}, g.State())

	spans := rec.Ended()
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"gate.chunk", "gate.chunk", "gate.chunk", "gate.deliver"}, names)
}

func TestGate_CompressedSingleChunk(t *testing.T) {
	target := &echoTarget{}
	var g *Gate
	target.auto = func(types.InboxMessage) { speak(g, "aria", time.Now()) }
	g = New(testConfig(), resolverFor("aria", target))

	require.NoError(t, g.Deliver(context.Background(), Announcement{
		Persona: "aria",
		Text:    "One. Two. Three. Four.",
	}))
	msgs := target.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, Instruction("One. Two. Three."), msgs[0].Text)
}

func TestGate_SeizesFloorPerChunk(t *testing.T) {
	target := &echoTarget{}
	fl := &recordingFloor{}
	var g *Gate
	target.auto = func(types.InboxMessage) { speak(g, "aria", time.Now()) }
	g = New(testConfig(), resolverFor("aria", target), WithFloor(fl))

	require.NoError(t, g.Deliver(context.Background(), Announcement{
		Persona: "aria",
		Text:    "First. Second.",
		Split:   true,
	}))
	assert.Equal(t, []types.SpeakerID{"aria", "aria"}, fl.Seized())
}

func TestGate_UnheardChunkFails(t *testing.T) {
	target := &echoTarget{}
	var g *Gate
	// 说完了，但没有任何音频到达客户端
	target.auto = func(types.InboxMessage) { g.NotifyTurnComplete("aria", time.Now()) }
	g = New(testConfig(), resolverFor("aria", target))

	err := g.Deliver(context.Background(), Announcement{Persona: "aria", Text: "Hello."})
	assert.True(t, types.IsErrorCode(err, types.ErrAnnouncementUnheard), "got %v", err)
	assert.False(t, g.State().Active)
}

func TestGate_NotifyForwardedCountsOnlyTargetTurns(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := New(testConfig(), resolverFor("aria", &echoTarget{}), WithClock(clock.Now))

	g.NotifyForwarded("aria", clock.Now())
	assert.Equal(t, 0, g.State().Forwarded, "no chunk open")

	stale := clock.Now()
	clock.Advance(time.Millisecond)
	g.open("aria")

	g.NotifyForwarded("aria", stale)
	g.NotifyForwarded("kai", clock.Now())
	assert.Equal(t, 0, g.State().Forwarded)

	g.NotifyForwarded("aria", clock.Now())
	g.NotifyForwarded("aria", clock.Advance(time.Millisecond))
	assert.Equal(t, 2, g.State().Forwarded)
}

func TestGate_Validation(t *testing.T) {
	g := New(testConfig(), resolverFor("aria", &echoTarget{}))
	ctx := context.Background()

	err := g.Deliver(ctx, Announcement{Persona: "aria", Text: "   "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidAnnouncement))

	err = g.Deliver(ctx, Announcement{Persona: "ghost", Text: "hi"})
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownPersona))
}

func TestGate_ChunkTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkTimeout = 30 * time.Millisecond
	g := New(cfg, resolverFor("aria", &echoTarget{}))

	err := g.Deliver(context.Background(), Announcement{Persona: "aria", Text: "Hello."})
	assert.True(t, types.IsErrorCode(err, types.ErrAnnouncementTimeout))
	assert.False(t, g.State().Active)
}

func TestGate_Cancelled(t *testing.T) {
	g := New(testConfig(), resolverFor("aria", &echoTarget{}))
	ctx := testutil.TestContextWithTimeout(t, 20*time.Millisecond)

	err := g.Deliver(ctx, Announcement{Persona: "aria", Text: "Hello."})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_EnqueueFailure(t *testing.T) {
	boom := errors.New("inbox closed")
	g := New(testConfig(), resolverFor("aria", &echoTarget{err: boom}))
	err := g.Deliver(context.Background(), Announcement{Persona: "aria", Text: "Hello."})
	assert.ErrorIs(t, err, boom)
}

func TestGate_Busy(t *testing.T) {
	g := New(testConfig(), resolverFor("aria", &echoTarget{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = g.Deliver(ctx, Announcement{Persona: "aria", Text: "Hello."}) }()
	testutil.AssertEventuallyTrue(t, func() bool { return g.State().Active }, time.Second)

	err := g.Deliver(context.Background(), Announcement{Persona: "aria", Text: "Again."})
	assert.True(t, types.IsErrorCode(err, types.ErrGateBusy))
}

func TestGate_StaleFragmentWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	cfg := testConfig()
	g := New(cfg, resolverFor("aria", &echoTarget{}), WithClock(clock.Now))

	before := clock.Now()
	clock.Advance(time.Millisecond)

	// 闸门关闭时一切放行
	assert.True(t, g.AllowFragment("kai", before))

	g.open("aria")
	after := clock.Advance(time.Millisecond)

	assert.False(t, g.AllowFragment("kai", before))
	assert.False(t, g.AllowFragment("aria", before))
	assert.True(t, g.AllowFragment("aria", after))
	assert.True(t, g.IsDirected("aria", after))
	assert.False(t, g.IsDirected("aria", before))
	assert.False(t, g.IsDirected("kai", after))

	// 屏蔽窗口过后不再拦截
	clock.Advance(cfg.BlockDirectAudio)
	assert.True(t, g.AllowFragment("kai", before))
}

func TestGate_StaleCompletionIgnored(t *testing.T) {
	clock := testutil.NewFakeClock()
	g := New(testConfig(), resolverFor("aria", &echoTarget{}), WithClock(clock.Now))

	stale := clock.Now()
	clock.Advance(time.Millisecond)
	done := g.open("aria")

	g.NotifyTurnComplete("aria", stale)
	g.NotifyTurnComplete("kai", clock.Now())
	select {
	case <-done:
		t.Fatal("stale or foreign completion must not finish the chunk")
	default:
	}

	g.NotifyTurnComplete("aria", clock.Advance(time.Millisecond))
	select {
	case <-done:
	default:
		t.Fatal("chunk should be complete")
	}
	// 重复通知无副作用
	g.NotifyTurnComplete("aria", clock.Now())
}

func TestGate_ForcedIntentWindow(t *testing.T) {
	clock := testutil.NewFakeClock()
	target := &echoTarget{}
	var g *Gate
	target.auto = func(types.InboxMessage) { speak(g, "aria", clock.Now()) }
	g = New(testConfig(), resolverFor("aria", target), WithClock(clock.Now))

	require.NoError(t, g.Deliver(context.Background(), Announcement{Persona: "aria", Text: "Bus 7 is late.", Intent: "transit"}))

	intent, ok := g.ForcedIntent(clock.Now())
	assert.True(t, ok)
	assert.Equal(t, "transit", intent)

	_, ok = g.ForcedIntent(clock.Now().Add(31 * time.Second))
	assert.False(t, ok)
}
