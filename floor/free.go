package floor

import (
	"time"

	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// freeArbiter 自由抢答：空闲时先到先得，用户随时抢占。
type freeArbiter struct {
	*actor
	cfg Config
}

func newFreeArbiter(cfg Config, o options) *freeArbiter {
	return &freeArbiter{actor: newActor(o, "floor.free"), cfg: cfg}
}

func (f *freeArbiter) Mode() Mode { return ModeFree }

func (f *freeArbiter) TryAcquire(who types.SpeakerID) bool {
	var granted bool
	f.do(func(s *TurnState, now time.Time) {
		switch {
		case s.WaitingForUser:
		case s.CurrentSpeaker == who:
			s.LastSpeech = now
			s.Spoke = true
			granted = true
		case s.CurrentSpeaker == types.SpeakerNone:
			s.CurrentSpeaker = who
			s.LastTransition = now
			s.LastSpeech = now
			s.Spoke = true
			granted = true
		}
	})
	f.recordDecision(who, granted)
	return granted
}

func (f *freeArbiter) Release(who types.SpeakerID) bool {
	var released bool
	f.do(func(s *TurnState, now time.Time) {
		if s.CurrentSpeaker != who || who == types.SpeakerNone {
			return
		}
		f.clear(s, now)
		released = true
	})
	return released
}

func (f *freeArbiter) ForceRelease() types.SpeakerID {
	var prev types.SpeakerID
	f.do(func(s *TurnState, now time.Time) {
		prev = s.CurrentSpeaker
		s.CurrentSpeaker = types.SpeakerNone
		s.PendingQuestion = false
		s.LastTransition = now
		s.Spoke = false
	})
	return prev
}

func (f *freeArbiter) Advance() types.SpeakerID {
	f.ForceRelease()
	return types.SpeakerNone
}

// clear 清除持有者；persona 的发言以提问结束时转入等待用户。
func (f *freeArbiter) clear(s *TurnState, now time.Time) {
	wasPersona := s.CurrentSpeaker.IsPersona()
	s.CurrentSpeaker = types.SpeakerNone
	s.LastTransition = now
	s.Spoke = false
	if wasPersona && s.PendingQuestion {
		s.PendingQuestion = false
		if f.cfg.AwaitAnswerOnQuestion {
			s.WaitingForUser = true
		}
	}
}

func (f *freeArbiter) SetUserTurn() {
	f.do(func(s *TurnState, now time.Time) {
		s.CurrentSpeaker = types.SpeakerUser
		s.WaitingForUser = false
		s.PendingQuestion = false
		s.LastTransition = now
		s.LastSpeech = now
		s.Spoke = false
	})
}

func (f *freeArbiter) SetWaitingForUser() {
	f.do(func(s *TurnState, now time.Time) {
		s.WaitingForUser = true
		if s.CurrentSpeaker.IsPersona() {
			s.CurrentSpeaker = types.SpeakerNone
			s.LastTransition = now
			s.Spoke = false
		}
	})
}

func (f *freeArbiter) Seize(who types.SpeakerID) {
	if !who.IsPersona() {
		return
	}
	f.do(func(s *TurnState, now time.Time) {
		s.CurrentSpeaker = who
		s.WaitingForUser = false
		s.PendingQuestion = false
		s.LastTransition = now
		s.LastSpeech = now
		s.Spoke = false
	})
	f.logger.Debug("turn seized", zap.String("speaker", who.String()))
}

func (f *freeArbiter) MarkPendingQuestion(who types.SpeakerID) {
	f.do(func(s *TurnState, now time.Time) {
		switch s.CurrentSpeaker {
		case who:
			s.PendingQuestion = true
		case types.SpeakerNone:
			// 发言权已被回收，直接进入等待
			if f.cfg.AwaitAnswerOnQuestion {
				s.WaitingForUser = true
			}
		}
	})
}

func (f *freeArbiter) Reclaim(now time.Time) (Reclaim, bool) {
	var (
		out Reclaim
		ok  bool
	)
	f.do(func(s *TurnState, _ time.Time) {
		silent := now.Sub(s.LastSpeech)
		switch {
		case s.CurrentSpeaker.IsPersona() && silent > f.cfg.SilenceThreshold:
			out = Reclaim{Speaker: s.CurrentSpeaker, Reason: ReasonSilence}
			f.clear(s, now)
			ok = true
		case s.CurrentSpeaker == types.SpeakerUser && silent > f.cfg.UserSilenceRelease:
			out = Reclaim{Speaker: types.SpeakerUser, Reason: ReasonUserSilence}
			f.clear(s, now)
			ok = true
		}
	})
	if ok {
		f.logger.Debug("turn reclaimed",
			zap.String("speaker", out.Speaker.String()),
			zap.String("reason", string(out.Reason)))
	}
	return out, ok
}

func (f *freeArbiter) Snapshot() TurnState { return f.snapshot() }
