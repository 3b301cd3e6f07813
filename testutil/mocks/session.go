// FakeSession / FakeDialer 是远端实时语音会话的脚本化替身。
//
// 测试通过 Emit* 推送模型帧，通过 Sent 检查 worker 发出的消息，
// 通过 Fail / FailSends 注入连接错误。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/realtime"
	"github.com/BaSui01/voicefloor/types"
)

// ErrInjected 是 FakeSession 注入的默认错误
var ErrInjected = errors.New("injected failure")

// SentMessage 记录一次上行发送
type SentMessage struct {
	Kind         types.MessageKind
	Audio        []byte
	SampleRate   int
	Text         string
	CompleteTurn bool
	ToolResult   types.ToolResult
}

// --- FakeSession ---

// FakeSession 实现 realtime.Session
type FakeSession struct {
	Persona types.SpeakerID

	mu        sync.Mutex
	sent      []SentMessage
	sendFails int
	sendErr   error

	frames    chan *types.Frame
	recvErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

var _ realtime.Session = (*FakeSession)(nil)

// NewFakeSession 创建脚本化会话
func NewFakeSession(persona types.SpeakerID) *FakeSession {
	return &FakeSession{
		Persona: persona,
		frames:  make(chan *types.Frame, 256),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// SendAudio 记录音频
func (s *FakeSession) SendAudio(_ context.Context, data []byte, sampleRate int) error {
	return s.record(SentMessage{Kind: types.MessageAudio, Audio: data, SampleRate: sampleRate})
}

// SendText 记录文本
func (s *FakeSession) SendText(_ context.Context, text string, completeTurn bool) error {
	return s.record(SentMessage{Kind: types.MessageTextContext, Text: text, CompleteTurn: completeTurn})
}

// SendToolResult 记录工具结果
func (s *FakeSession) SendToolResult(_ context.Context, result types.ToolResult) error {
	return s.record(SentMessage{Kind: types.MessageToolResult, ToolResult: result})
}

func (s *FakeSession) record(m SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return types.NewError(types.ErrSessionClosed, "fake session closed").WithPersona(s.Persona)
	}
	if s.sendFails > 0 {
		s.sendFails--
		return types.NewError(types.ErrSendFailed, "fake send").WithCause(s.sendErr).WithRetryable(true)
	}
	s.sent = append(s.sent, m)
	return nil
}

// Receive 返回下一帧脚本
func (s *FakeSession) Receive(ctx context.Context) (*types.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, types.NewError(types.ErrSessionClosed, "fake session closed").WithPersona(s.Persona)
	case err := <-s.recvErr:
		return nil, err
	case f := <-s.frames:
		return f, nil
	}
}

// Close 关闭会话
func (s *FakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *FakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// --- 脚本 ---

// Emit 推送一帧；Received 为空时填当前时间
func (s *FakeSession) Emit(f *types.Frame) {
	if f.Received.IsZero() {
		f.Received = time.Now()
	}
	s.frames <- f
}

// EmitAudio 推送音频帧
func (s *FakeSession) EmitAudio(data []byte) {
	s.Emit(&types.Frame{Kind: types.FrameAudio, Audio: data})
}

// EmitText 推送转写帧
func (s *FakeSession) EmitText(text string) {
	s.Emit(&types.Frame{Kind: types.FrameText, Text: text})
}

// EmitTurnComplete 推送轮次结束帧
func (s *FakeSession) EmitTurnComplete() {
	s.Emit(&types.Frame{Kind: types.FrameTurnComplete})
}

// EmitInterrupted 推送打断帧
func (s *FakeSession) EmitInterrupted() {
	s.Emit(&types.Frame{Kind: types.FrameInterrupted})
}

// EmitToolCall 推送工具调用帧
func (s *FakeSession) EmitToolCall(call types.ToolCall) {
	s.Emit(&types.Frame{Kind: types.FrameToolCall, ToolCall: &call})
}

// Fail 让下一次 Receive 返回 err（nil 时使用 ErrInjected）
func (s *FakeSession) Fail(err error) {
	if err == nil {
		err = ErrInjected
	}
	select {
	case s.recvErr <- err:
	default:
	}
}

// FailSends 让接下来的 n 次发送失败
func (s *FakeSession) FailSends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendFails = n
	s.sendErr = ErrInjected
}

// Sent 返回已成功发送的消息
func (s *FakeSession) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// SentTexts 返回已发送的文本
func (s *FakeSession) SentTexts() []string {
	var out []string
	for _, m := range s.Sent() {
		if m.Kind == types.MessageTextContext {
			out = append(out, m.Text)
		}
	}
	return out
}

// Closed 报告会话是否已关闭
func (s *FakeSession) Closed() bool { return s.isClosed() }

// --- FakeDialer ---

// FakeDialer 为每次 Dial 创建新的 FakeSession，并按 persona 记录
type FakeDialer struct {
	mu       sync.Mutex
	sessions map[types.SpeakerID][]*FakeSession
	failures map[types.SpeakerID]int
	dials    int
}

var _ realtime.Dialer = (*FakeDialer)(nil)

// NewFakeDialer 创建 FakeDialer
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		sessions: make(map[types.SpeakerID][]*FakeSession),
		failures: make(map[types.SpeakerID]int),
	}
}

// FailDials 让 persona 接下来的 n 次 Dial 失败
func (d *FakeDialer) FailDials(persona types.SpeakerID, n int) *FakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[persona] = n
	return d
}

// Dial 实现 realtime.Dialer
func (d *FakeDialer) Dial(ctx context.Context, p types.Persona) (realtime.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures[p.ID] > 0 {
		d.failures[p.ID]--
		return nil, types.NewError(types.ErrConnectionFailed, "fake dial").
			WithCause(ErrInjected).WithRetryable(true).WithPersona(p.ID)
	}
	s := NewFakeSession(p.ID)
	d.sessions[p.ID] = append(d.sessions[p.ID], s)
	return s, nil
}

// Dials 返回 Dial 调用总数
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Count 返回 persona 成功建立的会话数
func (d *FakeDialer) Count(persona types.SpeakerID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[persona])
}

// Session 返回 persona 最近一次建立的会话，没有时返回 nil
func (d *FakeDialer) Session(persona types.SpeakerID) *FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sessions[persona]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// WaitSession 等待 persona 的第 n 个会话建立（从 1 开始计数）
func (d *FakeDialer) WaitSession(persona types.SpeakerID, n int, timeout time.Duration) *FakeSession {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		list := d.sessions[persona]
		if len(list) >= n {
			s := list[n-1]
			d.mu.Unlock()
			return s
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}
