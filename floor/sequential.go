package floor

import (
	"time"

	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// sequentialArbiter 固定轮转：[USER, p1, p2, ...]，只有当前序号上的发言者可以输出。
type sequentialArbiter struct {
	*actor
	cfg Config
}

func newSequentialArbiter(cfg Config, personas []types.SpeakerID, o options) *sequentialArbiter {
	a := &sequentialArbiter{actor: newActor(o, "floor.sequential"), cfg: cfg}
	rotation := make([]types.SpeakerID, 0, len(personas)+1)
	rotation = append(rotation, types.SpeakerUser)
	rotation = append(rotation, personas...)
	start := o.now()
	a.do(func(s *TurnState, _ time.Time) {
		s.Rotation = rotation
		s.Index = 0
		s.CurrentSpeaker = types.SpeakerUser
		s.LastTransition = start
		s.LastSpeech = start
	})
	return a
}

func (q *sequentialArbiter) Mode() Mode { return ModeSequential }

func (q *sequentialArbiter) TryAcquire(who types.SpeakerID) bool {
	var granted bool
	q.do(func(s *TurnState, now time.Time) {
		if s.WaitingForUser || s.Rotation[s.Index] != who {
			return
		}
		s.LastSpeech = now
		s.Spoke = true
		granted = true
	})
	q.recordDecision(who, granted)
	return granted
}

func (q *sequentialArbiter) Release(who types.SpeakerID) bool {
	var released bool
	q.do(func(s *TurnState, now time.Time) {
		if s.Rotation[s.Index] != who {
			return
		}
		q.advance(s, now)
		released = true
	})
	return released
}

func (q *sequentialArbiter) ForceRelease() types.SpeakerID {
	var prev types.SpeakerID
	q.do(func(s *TurnState, now time.Time) {
		prev = s.Rotation[s.Index]
		s.PendingQuestion = false
		next := (s.Index + 1) % len(s.Rotation)
		if s.WaitingForUser {
			next = 0
		}
		q.moveTo(s, next, now)
	})
	return prev
}

func (q *sequentialArbiter) Advance() types.SpeakerID {
	var next types.SpeakerID
	q.do(func(s *TurnState, now time.Time) {
		q.advance(s, now)
		next = s.CurrentSpeaker
	})
	return next
}

// advance 推进序号；提问结束时直接回到用户并等待回答。
func (q *sequentialArbiter) advance(s *TurnState, now time.Time) {
	if s.WaitingForUser {
		q.moveTo(s, 0, now)
		return
	}
	if s.PendingQuestion && s.Rotation[s.Index].IsPersona() {
		s.PendingQuestion = false
		if q.cfg.AwaitAnswerOnQuestion {
			q.moveTo(s, 0, now)
			s.WaitingForUser = true
			return
		}
	}
	q.moveTo(s, (s.Index+1)%len(s.Rotation), now)
}

func (q *sequentialArbiter) moveTo(s *TurnState, idx int, now time.Time) {
	s.Index = idx
	s.CurrentSpeaker = s.Rotation[idx]
	s.LastTransition = now
	s.LastSpeech = now
	s.Spoke = false
}

func (q *sequentialArbiter) SetUserTurn() {
	q.do(func(s *TurnState, now time.Time) {
		q.moveTo(s, 0, now)
		s.WaitingForUser = false
		s.PendingQuestion = false
	})
}

func (q *sequentialArbiter) SetWaitingForUser() {
	q.do(func(s *TurnState, now time.Time) {
		s.WaitingForUser = true
		if s.Index != 0 {
			q.moveTo(s, 0, now)
		}
	})
}

func (q *sequentialArbiter) Seize(who types.SpeakerID) {
	var seized bool
	q.do(func(s *TurnState, now time.Time) {
		for i, id := range s.Rotation {
			if id == who && who.IsPersona() {
				q.moveTo(s, i, now)
				s.WaitingForUser = false
				s.PendingQuestion = false
				seized = true
				return
			}
		}
	})
	if seized {
		q.logger.Debug("turn seized", zap.String("speaker", who.String()))
	}
}

func (q *sequentialArbiter) MarkPendingQuestion(who types.SpeakerID) {
	q.do(func(s *TurnState, now time.Time) {
		if s.Rotation[s.Index] == who {
			s.PendingQuestion = true
			return
		}
		// 发言权已被推进；下一位还没开口时回到用户
		if q.cfg.AwaitAnswerOnQuestion && !s.Spoke && s.Index != 0 {
			q.moveTo(s, 0, now)
			s.WaitingForUser = true
		}
	})
}

func (q *sequentialArbiter) Reclaim(now time.Time) (Reclaim, bool) {
	var (
		out Reclaim
		ok  bool
	)
	q.do(func(s *TurnState, _ time.Time) {
		holder := s.Rotation[s.Index]
		if !holder.IsPersona() {
			return
		}
		switch {
		case q.cfg.StallTimeout > 0 && now.Sub(s.LastTransition) > q.cfg.StallTimeout:
			out.Reason = ReasonStall
		case s.Spoke && now.Sub(s.LastSpeech) > q.cfg.SilenceThreshold:
			out.Reason = ReasonSilence
		default:
			return
		}
		out.Speaker = holder
		q.advance(s, now)
		out.Next = s.CurrentSpeaker
		ok = true
	})
	if ok {
		q.logger.Debug("turn advanced by watchdog",
			zap.String("speaker", out.Speaker.String()),
			zap.String("next", out.Next.String()),
			zap.String("reason", string(out.Reason)))
	}
	return out, ok
}

func (q *sequentialArbiter) Snapshot() TurnState { return q.snapshot() }
