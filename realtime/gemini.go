package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiDialer 通过 Gemini Live API 建立会话
type GeminiDialer struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// NewGeminiDialer 创建 Gemini Live Dialer
func NewGeminiDialer(ctx context.Context, cfg Config, logger *zap.Logger) (*GeminiDialer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "create genai client").WithCause(err)
	}
	return &GeminiDialer{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "realtime_gemini")),
	}, nil
}

// Dial 为 persona 打开一条 Live 会话
func (d *GeminiDialer) Dial(ctx context.Context, p types.Persona) (Session, error) {
	sess, err := d.client.Live.Connect(ctx, d.cfg.Model, liveConfig(p, d.cfg.Tools))
	if err != nil {
		return nil, types.NewError(types.ErrConnectionFailed, "gemini live connect").
			WithCause(err).WithRetryable(true).WithPersona(p.ID)
	}
	return newGeminiSession(sess, p.ID, d.logger), nil
}

func liveConfig(p types.Persona, tools []types.ToolDeclaration) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if p.Instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.Instruction}}}
	}
	if p.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.Voice},
			},
		}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// toGenaiSchema 把工具参数声明转换为 genai.Schema
func toGenaiSchema(s *types.JSONSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case types.SchemaTypeString:
		out.Type = genai.TypeString
	case types.SchemaTypeNumber:
		out.Type = genai.TypeNumber
	case types.SchemaTypeInteger:
		out.Type = genai.TypeInteger
	case types.SchemaTypeBoolean:
		out.Type = genai.TypeBoolean
	case types.SchemaTypeArray:
		out.Type = genai.TypeArray
	case types.SchemaTypeObject:
		out.Type = genai.TypeObject
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	out.Items = toGenaiSchema(s.Items)
	for _, v := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(v))
	}
	return out
}

// liveSession 是 *genai.Session 中本包用到的方法，便于测试替换。
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type receiveResult struct {
	msg *genai.LiveServerMessage
	err error
}

// geminiSession 将 Live 会话适配为 Session。
// genai 的 Receive 不接受 context，所以由单独的 goroutine 泵出消息。
type geminiSession struct {
	sess    liveSession
	persona types.SpeakerID
	logger  *zap.Logger

	sendMu    sync.Mutex
	startPump sync.Once
	incoming  chan receiveResult
	done      chan struct{}
	closeOnce sync.Once
	pending   []*types.Frame
}

func newGeminiSession(sess liveSession, persona types.SpeakerID, logger *zap.Logger) *geminiSession {
	return &geminiSession{
		sess:     sess,
		persona:  persona,
		logger:   logger.With(zap.String("persona", persona.String())),
		incoming: make(chan receiveResult, 8),
		done:     make(chan struct{}),
	}
}

func (g *geminiSession) SendAudio(_ context.Context, data []byte, sampleRate int) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	err := g.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate)},
	})
	return g.sendErr("send audio", err)
}

func (g *geminiSession) SendText(_ context.Context, text string, completeTurn bool) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	err := g.sess.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}},
		TurnComplete: genai.Ptr(completeTurn),
	})
	return g.sendErr("send text", err)
}

func (g *geminiSession) SendToolResult(_ context.Context, result types.ToolResult) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	err := g.sess.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       result.CallID,
			Name:     result.Name,
			Response: result.Payload,
		}},
	})
	return g.sendErr("send tool response", err)
}

func (g *geminiSession) sendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewError(types.ErrSendFailed, op).WithCause(err).WithRetryable(true).WithPersona(g.persona)
}

func (g *geminiSession) pump() {
	for {
		msg, err := g.sess.Receive()
		select {
		case g.incoming <- receiveResult{msg: msg, err: err}:
		case <-g.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Receive 返回下一帧。一条服务端消息可能展开为多帧。
func (g *geminiSession) Receive(ctx context.Context) (*types.Frame, error) {
	g.startPump.Do(func() { go g.pump() })

	for len(g.pending) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.done:
			return nil, types.NewError(types.ErrSessionClosed, "session closed").WithPersona(g.persona)
		case r := <-g.incoming:
			if r.err != nil {
				return nil, types.NewError(types.ErrReceiveFailed, "gemini receive").
					WithCause(r.err).WithRetryable(true).WithPersona(g.persona)
			}
			g.pending = translateServerMessage(r.msg)
			if r.msg != nil && r.msg.GoAway != nil {
				g.logger.Info("server requested disconnect")
			}
		}
	}

	f := g.pending[0]
	g.pending = g.pending[1:]
	return f, nil
}

func (g *geminiSession) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		err = g.sess.Close()
	})
	return err
}

// translateServerMessage 把一条 LiveServerMessage 展开为有序的帧：
// 音频、转写、工具调用，最后是 interrupted / turn_complete。
func translateServerMessage(msg *genai.LiveServerMessage) []*types.Frame {
	if msg == nil {
		return nil
	}
	var out []*types.Frame

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				f := newFrame(types.FrameAudio)
				f.Audio = part.InlineData.Data
				out = append(out, f)
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			f := newFrame(types.FrameText)
			f.Text = sc.OutputTranscription.Text
			out = append(out, f)
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			if call == nil {
				continue
			}
			f := newFrame(types.FrameToolCall)
			f.ToolCall = &types.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args}
			out = append(out, f)
		}
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, newFrame(types.FrameInterrupted))
		}
		if sc.TurnComplete {
			out = append(out, newFrame(types.FrameTurnComplete))
		}
	}
	return out
}
