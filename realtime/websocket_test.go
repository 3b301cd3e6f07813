package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voicefloor/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Interface compliance ---

func TestWSSession_ImplementsSession(t *testing.T) {
	var _ Session = (*WSSession)(nil)
	var _ Dialer = (*WSDialer)(nil)
}

// --- Helpers ---

// fakeGateway 记录收到的上行消息，并按脚本推送下行帧。
type fakeGateway struct {
	received chan clientMessage
	auth     chan string
	script   []any
}

func (g *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	g.auth <- r.Header.Get("Authorization")

	ctx := r.Context()
	for _, item := range g.script {
		switch v := item.(type) {
		case []byte:
			_ = conn.Write(ctx, websocket.MessageBinary, v)
		default:
			data, _ := json.Marshal(v)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil {
			g.received <- msg
		}
	}
}

func startGateway(t *testing.T, script ...any) (*fakeGateway, string) {
	t.Helper()
	g := &fakeGateway{
		received: make(chan clientMessage, 16),
		auth:     make(chan string, 1),
		script:   script,
	}
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextMessage(t *testing.T, g *fakeGateway) clientMessage {
	t.Helper()
	select {
	case m := <-g.received:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client message")
		return clientMessage{}
	}
}

// --- Tests ---

func TestWSDialer_SetupAndSend(t *testing.T) {
	g, url := startGateway(t)
	tools := []types.ToolDeclaration{{Name: "weather", Description: "forecast"}}
	d := NewWSDialer(Config{URL: url, Model: "m1", APIKey: "k", OutputSampleRate: 24000, Tools: tools}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := types.Persona{ID: "aria", Name: "Aria", Voice: "Aoede", Instruction: "be brief"}
	sess, err := d.Dial(ctx, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	assert.Equal(t, "Bearer k", <-g.auth)

	setup := nextMessage(t, g)
	require.Equal(t, msgSetup, setup.Type)
	require.NotNil(t, setup.Setup)
	assert.Equal(t, "Aria", setup.Setup.Persona)
	assert.Equal(t, "Aoede", setup.Setup.Voice)
	assert.Equal(t, "m1", setup.Setup.Model)
	assert.Equal(t, tools, setup.Setup.Tools)
	assert.NotEmpty(t, setup.ID)

	require.NoError(t, sess.SendAudio(ctx, []byte{1, 2, 3, 4}, 16000))
	audio := nextMessage(t, g)
	assert.Equal(t, msgAudio, audio.Type)
	assert.Equal(t, []byte{1, 2, 3, 4}, audio.Audio)
	assert.Equal(t, 16000, audio.SampleRate)

	require.NoError(t, sess.SendText(ctx, "hello", true))
	text := nextMessage(t, g)
	assert.Equal(t, "hello", text.Text)
	assert.True(t, text.TurnComplete)

	result := types.ToolResult{CallID: "c1", Name: "weather", Payload: map[string]any{"temp": 21.0}}
	require.NoError(t, sess.SendToolResult(ctx, result))
	tr := nextMessage(t, g)
	require.NotNil(t, tr.ToolResult)
	assert.Equal(t, "c1", tr.ToolResult.CallID)
	assert.Equal(t, 21.0, tr.ToolResult.Payload["temp"])
}

func TestWSSession_ReceiveFrames(t *testing.T) {
	_, url := startGateway(t,
		serverMessage{Type: types.FrameAudio, Audio: []byte{9, 9}},
		[]byte{7, 7, 7},
		serverMessage{Type: "mystery"},
		serverMessage{Type: types.FrameToolCall},
		serverMessage{Type: types.FrameText, Text: "안녕"},
		serverMessage{Type: types.FrameToolCall, ToolCall: &types.ToolCall{ID: "t1", Name: "weather"}},
		serverMessage{Type: types.FrameTurnComplete},
	)
	d := NewWSDialer(Config{URL: url}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := d.Dial(ctx, types.Persona{ID: "aria"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	var kinds []types.FrameKind
	var frames []*types.Frame
	for i := 0; i < 5; i++ {
		f, err := sess.Receive(ctx)
		require.NoError(t, err)
		kinds = append(kinds, f.Kind)
		frames = append(frames, f)
	}

	assert.Equal(t, []types.FrameKind{
		types.FrameAudio, types.FrameAudio, types.FrameText, types.FrameToolCall, types.FrameTurnComplete,
	}, kinds)
	assert.Equal(t, []byte{9, 9}, frames[0].Audio)
	assert.Equal(t, []byte{7, 7, 7}, frames[1].Audio)
	assert.Equal(t, "안녕", frames[2].Text)
	assert.Equal(t, "t1", frames[3].ToolCall.ID)
	assert.False(t, frames[4].Received.IsZero())
}

func TestWSSession_SendAfterClose(t *testing.T) {
	_, url := startGateway(t)
	d := NewWSDialer(Config{URL: url}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := d.Dial(ctx, types.Persona{ID: "kai"})
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	err = sess.SendText(ctx, "late", false)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionClosed))
}

func TestWSDialer_DialFailure(t *testing.T) {
	d := NewWSDialer(Config{URL: "ws://127.0.0.1:1/none", DialTimeout: time.Second}, nil)

	_, err := d.Dial(context.Background(), types.Persona{ID: "aria"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConnectionFailed))
	assert.True(t, types.IsRetryable(err))
}

func TestNewDialer_UnknownProvider(t *testing.T) {
	_, err := NewDialer(context.Background(), Config{Provider: "smoke-signals"}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	d, err := NewDialer(context.Background(), Config{Provider: ProviderWebSocket, URL: "ws://x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WSDialer{}, d)
}
