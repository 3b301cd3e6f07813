package relay

import (
	"context"
	"sync"
	"testing"

	"github.com/BaSui01/voicefloor/floor"
	"github.com/BaSui01/voicefloor/testutil/fixtures"
	"github.com/BaSui01/voicefloor/transcript"
	"github.com/BaSui01/voicefloor/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu   sync.Mutex
	msgs []types.InboxMessage
}

func (r *recordingTarget) Enqueue(m types.InboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingTarget) Messages() []types.InboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.InboxMessage(nil), r.msgs...)
}

func setup(t *testing.T, cfg Config, opts ...Option) (*Relay, floor.Arbiter, map[types.SpeakerID]*recordingTarget) {
	t.Helper()
	arb, err := floor.New(floor.DefaultConfig(), fixtures.PersonaIDs())
	require.NoError(t, err)
	t.Cleanup(arb.Close)

	r := New(cfg, arb, fixtures.Personas(), opts...)
	targets := map[types.SpeakerID]*recordingTarget{}
	for _, id := range fixtures.PersonaIDs() {
		targets[id] = &recordingTarget{}
		r.Register(id, targets[id])
	}
	return r, arb, targets
}

func TestRelay_UserUtteranceResetsAndPreempts(t *testing.T) {
	r, arb, _ := setup(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, arb.TryAcquire(fixtures.Aria))
	r.OnPersonaUtterance(ctx, fixtures.Aria, "첫 번째 의견입니다.")
	require.Equal(t, 1, r.Counter())

	r.OnUserUtterance(ctx, "그렇군요")
	assert.Equal(t, 0, r.Counter())
	s := arb.Snapshot()
	assert.Equal(t, types.SpeakerUser, s.CurrentSpeaker)
	assert.False(t, s.WaitingForUser)
}

func TestRelay_PrimarySelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultPrimary = fixtures.Aria
	r, _, _ := setup(t, cfg)
	ctx := context.Background()

	assert.Equal(t, fixtures.Aria, r.Primary())

	r.OnUserUtterance(ctx, "카이, 오늘 날씨 어때?")
	assert.Equal(t, fixtures.Kai, r.Primary())

	// 未称呼时保持上一位主答
	r.OnUserUtterance(ctx, "그리고 내일은?")
	assert.Equal(t, fixtures.Kai, r.Primary())

	// 同时称呼两位时取最先出现的
	r.OnUserUtterance(ctx, "ARIA and kai, what do you think?")
	assert.Equal(t, fixtures.Aria, r.Primary())
}

func TestRelay_ShouldYield(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultPrimary = fixtures.Kai
	r, _, _ := setup(t, cfg)
	ctx := context.Background()

	assert.True(t, r.ShouldYield(fixtures.Aria))
	assert.False(t, r.ShouldYield(fixtures.Kai))

	r.OnUserUtterance(ctx, "Aria, hello")
	assert.False(t, r.ShouldYield(fixtures.Aria))
	assert.True(t, r.ShouldYield(fixtures.Kai))

	r.OnPersonaUtterance(ctx, fixtures.Aria, "Hello there.")
	assert.False(t, r.ShouldYield(fixtures.Kai))
}

func TestRelay_DefaultPrimaryIsFirstPersona(t *testing.T) {
	for _, primary := range []types.SpeakerID{types.SpeakerNone, "ghost"} {
		cfg := DefaultConfig()
		cfg.DefaultPrimary = primary
		r, _, _ := setup(t, cfg)

		assert.Equal(t, fixtures.Aria, r.Primary())

		// 没有点名时首答仍然只属于主答
		r.OnUserUtterance(context.Background(), "what's the weather like")
		assert.Equal(t, fixtures.Aria, r.Primary())
		assert.False(t, r.ShouldYield(fixtures.Aria))
		assert.True(t, r.ShouldYield(fixtures.Kai))
	}
}

func TestRelay_CrossRelayToPeersOnly(t *testing.T) {
	store := transcript.NewMemoryStore(10)
	r, _, targets := setup(t, DefaultConfig(), WithStore(store))
	ctx := context.Background()

	r.OnPersonaUtterance(ctx, fixtures.Aria, "  오늘은 맑아요.  ")

	assert.Empty(t, targets[fixtures.Aria].Messages())
	msgs := targets[fixtures.Kai].Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.MessageTextContext, msgs[0].Kind)
	assert.Equal(t, `Peer(Aria) said: "오늘은 맑아요."`, msgs[0].Text)
	assert.True(t, msgs[0].SystemInjected)
	assert.True(t, msgs[0].CompleteTurn)

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fixtures.Aria, entries[0].Speaker)
	assert.Equal(t, "오늘은 맑아요.", entries[0].Text)
}

func TestRelay_EmptyUtteranceIgnored(t *testing.T) {
	r, _, targets := setup(t, DefaultConfig())
	r.OnPersonaUtterance(context.Background(), fixtures.Aria, "   ")
	assert.Equal(t, 0, r.Counter())
	assert.Empty(t, targets[fixtures.Kai].Messages())
}

func TestRelay_PromptPeersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PromptPeers = false
	r, _, targets := setup(t, cfg)

	r.OnPersonaUtterance(context.Background(), fixtures.Aria, "Noted.")
	assert.False(t, targets[fixtures.Kai].Messages()[0].CompleteTurn)
}

func TestRelay_CeilingSetsWaitingForUser(t *testing.T) {
	r, arb, targets := setup(t, DefaultConfig())
	ctx := context.Background()

	r.OnPersonaUtterance(ctx, fixtures.Aria, "one.")
	r.OnPersonaUtterance(ctx, fixtures.Kai, "two.")
	assert.False(t, arb.Snapshot().WaitingForUser)

	r.OnPersonaUtterance(ctx, fixtures.Aria, "three.")
	assert.True(t, arb.Snapshot().WaitingForUser)

	last := targets[fixtures.Kai].Messages()
	final := last[len(last)-1]
	assert.Contains(t, final.Text, CeilingInstruction)
	assert.False(t, final.CompleteTurn)

	assert.False(t, arb.TryAcquire(fixtures.Kai))

	r.OnUserUtterance(ctx, "okay")
	assert.False(t, arb.Snapshot().WaitingForUser)
}

func TestRelay_QuestionMarksPending(t *testing.T) {
	r, arb, targets := setup(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, arb.TryAcquire(fixtures.Aria))
	r.OnPersonaUtterance(ctx, fixtures.Aria, "어디로 가고 싶으세요?")
	assert.True(t, arb.Snapshot().PendingQuestion)
	assert.False(t, targets[fixtures.Kai].Messages()[0].CompleteTurn)

	require.True(t, arb.Release(fixtures.Aria))
	assert.True(t, arb.Snapshot().WaitingForUser)
}

func TestRelay_CustomPredicates(t *testing.T) {
	r, arb, _ := setup(t, DefaultConfig(),
		WithQuestionPredicate(func(string) bool { return true }),
		WithAddressPredicate(func(text string, p types.Persona) int {
			if p.ID == fixtures.Kai {
				return 0
			}
			return -1
		}))
	ctx := context.Background()

	r.OnUserUtterance(ctx, "anything")
	assert.Equal(t, fixtures.Kai, r.Primary())

	require.True(t, arb.Release(types.SpeakerUser))
	require.True(t, arb.TryAcquire(fixtures.Kai))
	r.OnPersonaUtterance(ctx, fixtures.Kai, "statement")
	assert.True(t, arb.Snapshot().PendingQuestion)
}

func TestRelay_MarkSpoke(t *testing.T) {
	r, _, _ := setup(t, DefaultConfig())
	assert.Equal(t, types.SpeakerNone, r.LastAISpeaker())
	r.MarkSpoke(fixtures.Kai)
	assert.Equal(t, fixtures.Kai, r.LastAISpeaker())
}

// 属性：没有用户发言插入时，第 ceiling 次转述恰好进入等待用户状态
func TestRelay_LoopBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	properties.Property("waiting for user exactly from the ceiling-th relay", prop.ForAll(
		func(ceiling, events int) bool {
			arb, err := floor.New(floor.DefaultConfig(), fixtures.PersonaIDs())
			if err != nil {
				return false
			}
			defer arb.Close()

			cfg := DefaultConfig()
			cfg.TurnCeiling = ceiling
			r := New(cfg, arb, fixtures.Personas())
			ids := fixtures.PersonaIDs()
			for i := 0; i < events; i++ {
				r.OnPersonaUtterance(context.Background(), ids[i%len(ids)], "a plain remark.")
				if arb.Snapshot().WaitingForUser != (i+1 >= ceiling) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 10),
	))
	properties.TestingRun(t)
}

func TestEndsWithQuestion(t *testing.T) {
	q := EndsWithQuestion(DefaultQuestionSuffixes)
	tests := []struct {
		text string
		want bool
	}{
		{"How are you?", true},
		{"어디 가세요？", true},
		{"같이 갈까요", true},
		{"괜찮나요.", true},
		{"그렇죠~", true},
		{`"Really?"  `, true},
		{"맑습니다.", false},
		{"Fine.", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, q(tt.text))
		})
	}
}

func TestMentionIndex(t *testing.T) {
	aria := fixtures.Personas()[0]
	assert.Equal(t, 0, MentionIndex("aria, hi", aria))
	assert.Equal(t, 4, MentionIndex("hey ARIA", aria))
	assert.GreaterOrEqual(t, MentionIndex("아리아 안녕", aria), 0)
	assert.Equal(t, -1, MentionIndex("hello kai", aria))
}
