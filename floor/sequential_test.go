package floor

import (
	"testing"
	"time"

	"github.com/BaSui01/voicefloor/testutil"
	"github.com/BaSui01/voicefloor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSequential(t *testing.T, clock *testutil.FakeClock) Arbiter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Mode = ModeSequential
	a, err := New(cfg, []types.SpeakerID{personaA, personaB}, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_SequentialRequiresPersonas(t *testing.T) {
	_, err := New(Config{Mode: ModeSequential}, nil)
	assert.Error(t, err)
}

func TestSequential_Rotation(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)
	assert.Equal(t, ModeSequential, a.Mode())

	s := a.Snapshot()
	assert.Equal(t, []types.SpeakerID{types.SpeakerUser, personaA, personaB}, s.Rotation)
	assert.Equal(t, types.SpeakerUser, s.CurrentSpeaker)
	assert.False(t, a.TryAcquire(personaA), "user's turn first")

	require.True(t, a.Release(types.SpeakerUser))
	assert.False(t, a.TryAcquire(personaB))
	assert.True(t, a.TryAcquire(personaA))

	assert.False(t, a.Release(personaB))
	require.True(t, a.Release(personaA))
	assert.True(t, a.TryAcquire(personaB))

	require.True(t, a.Release(personaB))
	assert.Equal(t, types.SpeakerUser, a.Snapshot().CurrentSpeaker)
}

func TestSequential_AdvanceWrapsAround(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	assert.Equal(t, personaA, a.Advance())
	assert.Equal(t, personaB, a.Advance())
	assert.Equal(t, types.SpeakerUser, a.Advance())
	assert.Equal(t, personaA, a.Advance())
	assert.Equal(t, personaA, a.ForceRelease())
	assert.Equal(t, personaB, a.Snapshot().CurrentSpeaker)
}

func TestSequential_ForceReleaseIgnoresPendingQuestion(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	require.Equal(t, personaA, a.Advance())
	a.MarkPendingQuestion(personaA)
	assert.Equal(t, personaA, a.ForceRelease())

	s := a.Snapshot()
	assert.Equal(t, personaB, s.CurrentSpeaker)
	assert.False(t, s.WaitingForUser)
	assert.False(t, s.PendingQuestion)
}

func TestSequential_SeizeMovesRotation(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	a.SetWaitingForUser()
	a.Seize(personaB)
	s := a.Snapshot()
	assert.Equal(t, personaB, s.CurrentSpeaker)
	assert.Equal(t, 2, s.Index)
	assert.False(t, s.WaitingForUser)
	assert.True(t, a.TryAcquire(personaB))
	assert.False(t, a.TryAcquire(personaA))

	a.Seize("ghost")
	assert.Equal(t, personaB, a.Snapshot().CurrentSpeaker)

	require.True(t, a.Release(personaB))
	assert.Equal(t, types.SpeakerUser, a.Snapshot().CurrentSpeaker)
}

func TestSequential_UserPreemption(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	a.Advance()
	require.True(t, a.TryAcquire(personaA))
	a.SetUserTurn()

	s := a.Snapshot()
	assert.Equal(t, types.SpeakerUser, s.CurrentSpeaker)
	assert.Equal(t, 0, s.Index)
	assert.False(t, s.WaitingForUser)
	assert.False(t, a.TryAcquire(personaA))
}

func TestSequential_QuestionReturnsToUser(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	a.Advance()
	require.True(t, a.TryAcquire(personaA))
	a.MarkPendingQuestion(personaA)
	require.True(t, a.Release(personaA))

	s := a.Snapshot()
	assert.Equal(t, types.SpeakerUser, s.CurrentSpeaker)
	assert.True(t, s.WaitingForUser)

	// 等待期间用户释放不会把发言权交给 persona
	a.Release(types.SpeakerUser)
	assert.Equal(t, types.SpeakerUser, a.Snapshot().CurrentSpeaker)

	a.SetUserTurn()
	require.True(t, a.Release(types.SpeakerUser))
	assert.True(t, a.TryAcquire(personaA))
}

func TestSequential_StallAdvance(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)
	a.Advance()

	// 从未开口的 persona 只受卡死超时约束
	_, ok := a.Reclaim(clock.Advance(10 * time.Second))
	assert.False(t, ok)

	r, ok := a.Reclaim(clock.Advance(9 * time.Second))
	require.True(t, ok)
	assert.Equal(t, Reclaim{Speaker: personaA, Reason: ReasonStall, Next: personaB}, r)
}

func TestSequential_SilenceAdvanceAfterSpeaking(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)
	a.Advance()

	require.True(t, a.TryAcquire(personaA))
	_, ok := a.Reclaim(clock.Advance(time.Second))
	assert.False(t, ok)

	r, ok := a.Reclaim(clock.Advance(time.Second))
	require.True(t, ok)
	assert.Equal(t, ReasonSilence, r.Reason)
	assert.Equal(t, personaB, a.Snapshot().CurrentSpeaker)
}

func TestSequential_UserTurnNeverReclaimed(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)

	_, ok := a.Reclaim(clock.Advance(time.Hour))
	assert.False(t, ok)
}

func TestSequential_WaitingInvariant(t *testing.T) {
	clock := testutil.NewFakeClock()
	a := newSequential(t, clock)
	a.Advance()

	a.SetWaitingForUser()
	s := a.Snapshot()
	assert.True(t, s.WaitingForUser)
	assert.False(t, s.CurrentSpeaker.IsPersona())
}
