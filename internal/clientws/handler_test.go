package clientws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/voicefloor/gate"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/testutil"
	"github.com/BaSui01/voicefloor/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

// fakeConversation 记录连接转交的输入
type fakeConversation struct {
	mu         sync.Mutex
	client     persona.ClientRelay
	audio      [][]byte
	utterances []string
	submitted  []gate.Announcement
	submitErr  error
	stopped    bool
}

func (f *fakeConversation) Run(ctx context.Context) error {
	<-ctx.Done()
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConversation) PushUserAudio(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
}

func (f *fakeConversation) OnFinalizedUtterance(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, text)
}

func (f *fakeConversation) Submit(a gate.Announcement) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, a)
	return "ann-1", nil
}

func (f *fakeConversation) snapshot() (audio int, utterances []string, submitted []gate.Announcement, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio), append([]string(nil), f.utterances...), append([]gate.Announcement(nil), f.submitted...), f.stopped
}

func (f *fakeConversation) relay() persona.ClientRelay {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client
}

func startEndpoint(t *testing.T, conv *fakeConversation, factoryErr error) (*Handler, string) {
	t.Helper()
	factory := func(id string, client persona.ClientRelay) (Conversation, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		conv.mu.Lock()
		conv.client = client
		conv.mu.Unlock()
		return conv, nil
	}
	h := NewHandler(factory, Config{StopTimeout: time.Second}, zaptest.NewLogger(t), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) outboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	return testutil.MustParseJSON[outboundMessage](string(data))
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(testutil.MustJSON(v))))
}

func TestHandler_SessionLifecycle(t *testing.T) {
	conv := &fakeConversation{}
	h, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)

	ready := readMessage(t, conn)
	assert.Equal(t, typeReady, ready.Type)
	assert.NotEmpty(t, ready.ConversationID)
	testutil.AssertEventuallyTrue(t, func() bool { return h.Active() == 1 }, waitTimeout)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageBinary, []byte{1, 2, 3, 4}))
	writeJSON(t, conn, map[string]any{"type": "utterance", "text": "Kai, hello"})

	testutil.AssertEventuallyTrue(t, func() bool {
		n, utt, _, _ := conv.snapshot()
		return n == 1 && len(utt) == 1
	}, waitTimeout)
	_, utt, _, _ := conv.snapshot()
	assert.Equal(t, "Kai, hello", utt[0])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	testutil.AssertEventuallyTrue(t, func() bool {
		_, _, _, stopped := conv.snapshot()
		return stopped && h.Active() == 0
	}, waitTimeout)
}

func TestHandler_RelaysPersonaAudio(t *testing.T) {
	conv := &fakeConversation{}
	_, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)
	readMessage(t, conn)

	client := conv.relay()
	require.NotNil(t, client)
	require.NoError(t, client.SendAudio(context.Background(), "aria", []byte{9, 8, 7}))

	msg := readMessage(t, conn)
	assert.Equal(t, typeAudio, msg.Type)
	assert.Equal(t, types.SpeakerID("aria"), msg.Speaker)
	assert.Equal(t, []byte{9, 8, 7}, msg.Audio)
}

func TestHandler_Announce(t *testing.T) {
	conv := &fakeConversation{}
	_, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)
	readMessage(t, conn)

	writeJSON(t, conn, map[string]any{"type": "announce", "persona": "kai", "text": "Storm warning.", "split": true, "intent": "weather"})
	ack := readMessage(t, conn)
	assert.Equal(t, typeAccepted, ack.Type)
	assert.Equal(t, "ann-1", ack.ID)

	_, _, submitted, _ := conv.snapshot()
	require.Len(t, submitted, 1)
	assert.Equal(t, gate.Announcement{Persona: "kai", Text: "Storm warning.", Split: true, Intent: "weather"}, submitted[0])

	conv.mu.Lock()
	conv.submitErr = types.NewError(types.ErrSchedulerQueueFull, "announcement queue is full")
	conv.mu.Unlock()
	writeJSON(t, conn, map[string]any{"type": "announce", "persona": "kai", "text": "again"})
	rejected := readMessage(t, conn)
	assert.Equal(t, typeError, rejected.Type)
	assert.Equal(t, string(types.ErrSchedulerQueueFull), rejected.Code)
}

func TestHandler_InvalidMessages(t *testing.T) {
	conv := &fakeConversation{}
	_, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, typeError, msg.Type)
	assert.Equal(t, "INVALID_MESSAGE", msg.Code)

	writeJSON(t, conn, map[string]any{"type": "dance"})
	msg = readMessage(t, conn)
	assert.Equal(t, typeError, msg.Type)
	assert.Contains(t, msg.Message, "dance")
}

func TestHandler_FactoryFailure(t *testing.T) {
	_, url := startEndpoint(t, &fakeConversation{}, errors.New("no personas"))
	conn := dial(t, url)

	msg := readMessage(t, conn)
	assert.Equal(t, typeError, msg.Type)
	assert.Equal(t, "INTERNAL", msg.Code)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
}

func TestHandler_CloseEndsConversations(t *testing.T) {
	conv := &fakeConversation{}
	h, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)
	readMessage(t, conn)
	testutil.AssertEventuallyTrue(t, func() bool { return h.Active() == 1 }, waitTimeout)

	h.Close()

	// 客户端读取时完成关闭握手
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	testutil.AssertEventuallyTrue(t, func() bool {
		_, _, _, stopped := conv.snapshot()
		return stopped
	}, waitTimeout)

	// 关闭后的新连接被拒绝
	late := dial(t, url)
	_, _, err = late.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHandler_ShutdownWaitsForConversations(t *testing.T) {
	conv := &fakeConversation{}
	h, url := startEndpoint(t, conv, nil)
	conn := dial(t, url)
	readMessage(t, conn)
	testutil.AssertEventuallyTrue(t, func() bool { return h.Active() == 1 }, waitTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	shutdown := make(chan error, 1)
	go func() { shutdown <- h.Shutdown(ctx) }()

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("shutdown did not return")
	}
	assert.Zero(t, h.Active())
	_, _, _, stopped := conv.snapshot()
	assert.True(t, stopped)
}
