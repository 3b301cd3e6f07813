package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voicefloor/config"
	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/gate"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/testutil"
	"github.com/BaSui01/voicefloor/testutil/fixtures"
	"github.com/BaSui01/voicefloor/testutil/mocks"
	"github.com/BaSui01/voicefloor/transcript"
	"github.com/BaSui01/voicefloor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Floor.TickInterval = 10 * time.Millisecond
	cfg.Floor.SilenceThreshold = 150 * time.Millisecond
	cfg.Floor.UserSilenceRelease = time.Second
	cfg.Worker.ReconnectBackoff = 10 * time.Millisecond
	cfg.Worker.CloseTimeout = 100 * time.Millisecond
	cfg.Gate.ChunkTimeout = time.Second
	cfg.Gate.BlockDirectAudio = 200 * time.Millisecond
	cfg.Scheduler.MinInterval = 0
	return cfg
}

type harness struct {
	orch   *Orchestrator
	dialer *mocks.FakeDialer
	client *mocks.RecordingClient
	store  transcript.Store
	aria   *mocks.FakeSession
	kai    *mocks.FakeSession
}

func start(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dialer: mocks.NewFakeDialer(),
		client: mocks.NewRecordingClient(),
		store:  transcript.NewMemoryStore(50),
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithStore(h.store)}, opts...)

	o, err := New(fixtures.Personas(), h.dialer, h.client, cfg, opts...)
	require.NoError(t, err)
	h.orch = o

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("orchestrator did not stop")
		}
	})

	h.aria = h.dialer.WaitSession(fixtures.Aria, 1, waitTimeout)
	h.kai = h.dialer.WaitSession(fixtures.Kai, 1, waitTimeout)
	require.NotNil(t, h.aria)
	require.NotNil(t, h.kai)
	testutil.AssertEventuallyTrue(t, func() bool {
		st := o.Status()
		return st.Workers[fixtures.Aria] == persona.StateConnected && st.Workers[fixtures.Kai] == persona.StateConnected
	}, waitTimeout)
	return h
}

func sentKinds(s *mocks.FakeSession, kind types.MessageKind) int {
	n := 0
	for _, m := range s.Sent() {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func textsContain(s *mocks.FakeSession, sub string) bool {
	return strings.Contains(strings.Join(s.SentTexts(), "\n"), sub)
}

// =============================================================================
// 🧪 装配
// =============================================================================

func TestNew_Validation(t *testing.T) {
	dialer := mocks.NewFakeDialer()
	client := mocks.NewRecordingClient()

	_, err := New(nil, dialer, client, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	_, err = New(fixtures.Personas(), nil, client, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	dup := append(fixtures.Personas(), types.Persona{ID: fixtures.Aria, Name: "Again"})
	_, err = New(dup, dialer, client, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	_, err = New([]types.Persona{{ID: types.SpeakerUser}}, dialer, client, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	cfg := DefaultConfig()
	cfg.Floor.Mode = "round-robin"
	_, err = New(fixtures.Personas(), dialer, client, cfg)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestRun_OnlyOnce(t *testing.T) {
	h := start(t, testConfig())
	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

// =============================================================================
// 🧪 对话流程
// =============================================================================

func TestUserAudio_FansOutAndPreempts(t *testing.T) {
	h := start(t, testConfig())

	h.orch.PushUserAudio(fixtures.PCM16Silence(160))
	testutil.AssertEventuallyTrue(t, func() bool {
		return sentKinds(h.aria, types.MessageAudio) == 1 && sentKinds(h.kai, types.MessageAudio) == 1
	}, waitTimeout)
	assert.Equal(t, types.SpeakerNone, h.orch.Status().CurrentSpeaker)

	h.orch.PushUserAudio(fixtures.PCM16Tone(160, 8000))
	assert.Equal(t, types.SpeakerUser, h.orch.Status().CurrentSpeaker)
	testutil.AssertEventuallyTrue(t, func() bool {
		return sentKinds(h.aria, types.MessageAudio) == 2 && sentKinds(h.kai, types.MessageAudio) == 2
	}, waitTimeout)

	for _, m := range h.aria.Sent() {
		if m.Kind == types.MessageAudio {
			assert.Equal(t, 16000, m.SampleRate)
		}
	}

	// 用户占有发言权时 persona 的音频被丢弃
	h.aria.EmitAudio([]byte{1, 2})
	testutil.AssertNeverTrue(t, func() bool { return h.client.Count(fixtures.Aria) > 0 }, 100*time.Millisecond)
}

func TestFinalizedUtterance_ReleasesUserAndRecords(t *testing.T) {
	h := start(t, testConfig())

	h.orch.PushUserAudio(fixtures.PCM16Tone(160, 8000))
	h.orch.OnFinalizedUtterance(context.Background(), "Kai, what's the weather?")

	st := h.orch.Status()
	assert.Equal(t, types.SpeakerNone, st.CurrentSpeaker)
	assert.Equal(t, fixtures.Kai, st.Primary)
	assert.Equal(t, 0, st.AITurns)

	entries, err := h.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.SpeakerUser, entries[0].Speaker)

	// 主答是 Kai，Aria 不能抢第一句
	h.aria.EmitAudio([]byte{1})
	testutil.AssertNeverTrue(t, func() bool { return h.client.Count(fixtures.Aria) > 0 }, 100*time.Millisecond)

	h.kai.EmitAudio([]byte{2})
	testutil.AssertEventuallyTrue(t, func() bool { return h.client.Count(fixtures.Kai) == 1 }, waitTimeout)
}

func TestFinalizedUtterance_UnaddressedKeepsFirstReplyWithPrimary(t *testing.T) {
	h := start(t, testConfig())
	require.Equal(t, fixtures.Aria, h.orch.Status().Primary)

	h.orch.PushUserAudio(fixtures.PCM16Tone(160, 8000))
	h.orch.OnFinalizedUtterance(context.Background(), "what's the weather like")
	assert.Equal(t, fixtures.Aria, h.orch.Status().Primary)

	h.kai.EmitAudio([]byte{1})
	testutil.AssertNeverTrue(t, func() bool { return h.client.Count(fixtures.Kai) > 0 }, 100*time.Millisecond)

	h.aria.EmitAudio([]byte{2})
	testutil.AssertEventuallyTrue(t, func() bool { return h.client.Count(fixtures.Aria) == 1 }, waitTimeout)
}

func TestPersonaTurn_CrossRelaysToPeer(t *testing.T) {
	h := start(t, testConfig())

	h.aria.EmitText("Good morning")
	h.aria.EmitAudio([]byte{1})
	testutil.AssertEventuallyTrue(t, func() bool { return h.client.Count(fixtures.Aria) == 1 }, waitTimeout)

	// Aria 发言期间 Kai 不能出声
	h.kai.EmitAudio([]byte{2})
	testutil.AssertNeverTrue(t, func() bool { return h.client.Count(fixtures.Kai) > 0 }, 100*time.Millisecond)

	h.aria.EmitTurnComplete()
	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.kai, `Peer(Aria) said: "Good morning"`)
	}, waitTimeout)
	assert.False(t, textsContain(h.aria, "Peer(Aria)"))

	st := h.orch.Status()
	assert.Equal(t, types.SpeakerNone, st.CurrentSpeaker)
	assert.Equal(t, 1, st.AITurns)
}

func TestWatchdog_FlushesAbandonedTurn(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.DefaultPrimary = fixtures.Kai
	h := start(t, cfg)

	h.kai.EmitText("Let me check the traffic")
	h.kai.EmitAudio([]byte{1})
	testutil.AssertEventuallyTrue(t, func() bool { return h.client.Count(fixtures.Kai) == 1 }, waitTimeout)

	// 不发送 turn_complete，看门狗在静默阈值后回收并转述缓冲的转写
	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.aria, `Peer(Kai) said: "Let me check the traffic"`)
	}, waitTimeout)
	assert.Equal(t, types.SpeakerNone, h.orch.Status().CurrentSpeaker)
}

func TestReconnect_PrimesHistory(t *testing.T) {
	h := start(t, testConfig())

	h.orch.OnFinalizedUtterance(context.Background(), "Hello everyone")
	h.aria.Fail(mocks.ErrInjected)

	again := h.dialer.WaitSession(fixtures.Aria, 2, waitTimeout)
	require.NotNil(t, again)
	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(again, "User: Hello everyone")
	}, waitTimeout)
}

// =============================================================================
// 🧪 播报
// =============================================================================

func TestAnnounce_DeliversThroughGate(t *testing.T) {
	h := start(t, testConfig())

	done := make(chan error, 1)
	go func() {
		done <- h.orch.Announce(context.Background(), gate.Announcement{
			Persona: fixtures.Aria,
			Text:    "The bus arrives in five minutes.",
			Intent:  "transit",
		})
	}()

	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.aria, "The bus arrives in five minutes.")
	}, waitTimeout)
	assert.True(t, h.orch.Status().Announcing)

	h.aria.EmitAudio([]byte{1})
	h.aria.EmitTurnComplete()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("announcement did not complete")
	}
	assert.Equal(t, 1, h.client.Count(fixtures.Aria))

	intent, ok := h.orch.ForcedIntent()
	assert.True(t, ok)
	assert.Equal(t, "transit", intent)
}

func announceAsync(h *harness, text string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.orch.Announce(context.Background(), gate.Announcement{Persona: fixtures.Aria, Text: text})
	}()
	return done
}

func TestAnnounce_SeizesFloorWhileWaitingForUser(t *testing.T) {
	h := start(t, testConfig())
	h.orch.arbiter.SetWaitingForUser()
	require.True(t, h.orch.Status().WaitingForUser)

	done := announceAsync(h, "Storm warning until midnight.")
	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.aria, "Storm warning until midnight.")
	}, waitTimeout)
	assert.False(t, h.orch.Status().WaitingForUser)

	h.aria.EmitAudio([]byte{1})
	h.aria.EmitTurnComplete()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("announcement did not complete")
	}
	assert.Equal(t, 1, h.client.Count(fixtures.Aria))
}

func TestAnnounce_FailsWhenNothingReachedClient(t *testing.T) {
	h := start(t, testConfig())

	done := announceAsync(h, "Storm warning until midnight.")
	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.aria, "Storm warning until midnight.")
	}, waitTimeout)

	// 用户在播报开口前抢占发言权
	h.orch.PushUserAudio(fixtures.PCM16Tone(160, 8000))
	h.aria.EmitAudio([]byte{1})
	h.aria.EmitTurnComplete()

	select {
	case err := <-done:
		assert.True(t, types.IsErrorCode(err, types.ErrAnnouncementUnheard), "got %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("announcement did not complete")
	}
	assert.Equal(t, 0, h.client.Count(fixtures.Aria))
}

func TestSubmit(t *testing.T) {
	h := start(t, testConfig())

	_, err := h.orch.Submit(gate.Announcement{Persona: "nobody", Text: "hi"})
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownPersona))

	id, err := h.orch.Submit(gate.Announcement{Persona: fixtures.Kai, Text: "Rain expected this evening."})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	testutil.AssertEventuallyTrue(t, func() bool {
		return textsContain(h.kai, "Rain expected this evening.")
	}, waitTimeout)
	h.kai.EmitAudio([]byte{1})
	h.kai.EmitTurnComplete()
	testutil.AssertEventuallyTrue(t, func() bool { return !h.orch.Status().Announcing }, waitTimeout)
}

// =============================================================================
// 🧪 顺序模式
// =============================================================================

func TestSequentialMode_RotatesAfterUser(t *testing.T) {
	cfg := testConfig()
	cfg.Floor.Mode = floor.ModeSequential
	cfg.Floor.StallTimeout = time.Minute
	cfg.Floor.SilenceThreshold = time.Minute
	h := start(t, cfg)

	h.orch.PushUserAudio(fixtures.PCM16Tone(160, 8000))
	h.orch.OnFinalizedUtterance(context.Background(), "Tell me a story")
	assert.Equal(t, fixtures.Aria, h.orch.Status().CurrentSpeaker)

	h.kai.EmitAudio([]byte{1})
	testutil.AssertNeverTrue(t, func() bool { return h.client.Count(fixtures.Kai) > 0 }, 100*time.Millisecond)

	h.aria.EmitAudio([]byte{2})
	h.aria.EmitTurnComplete()
	testutil.AssertEventuallyEqual(t, fixtures.Kai, func() any { return h.orch.Status().CurrentSpeaker }, waitTimeout)
	assert.Equal(t, 1, h.client.Count(fixtures.Aria))
}

// =============================================================================
// 🧪 配置与人声检测
// =============================================================================

func TestFromConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Floor.Mode = "sequential"
	c.Relay.TurnCeiling = 5
	c.Announce.ChunkMaxChars = 90
	c.Transcript.Backend = "redis"
	c.Model.InputSampleRate = 24000

	cfg := FromConfig(c)
	assert.Equal(t, floor.ModeSequential, cfg.Floor.Mode)
	assert.Equal(t, 5, cfg.Relay.TurnCeiling)
	assert.Equal(t, 90, cfg.Gate.Compose.ChunkMaxChars)
	assert.Equal(t, c.Announce.QueueSize, cfg.Scheduler.QueueSize)
	assert.Equal(t, c.Worker.InboxCapacity, cfg.Worker.InboxCapacity)
	assert.Equal(t, transcript.BackendRedis, cfg.Transcript.Backend)
	assert.Equal(t, 24000, cfg.InputSampleRate)
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS([]byte{7}))
	assert.Equal(t, 0.0, RMS(fixtures.PCM16Silence(64)))

	// 方波 ±1000 的 RMS 为 1000
	square := []byte{0xE8, 0x03, 0x18, 0xFC}
	assert.InDelta(t, 1000.0, RMS(square), 0.001)

	vad := RMSActivity(500)
	assert.True(t, vad(square))
	assert.False(t, vad(fixtures.PCM16Silence(64)))
}
