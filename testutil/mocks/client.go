// RecordingClient 记录送往终端用户的音频，用于断言谁在什么时候发声。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/types"
)

// ClientChunk 一段送往客户端的音频
type ClientChunk struct {
	Speaker types.SpeakerID
	Audio   []byte
	At      time.Time
}

// RecordingClient 实现客户端中继接口
type RecordingClient struct {
	mu     sync.Mutex
	chunks []ClientChunk
	err    error
}

// NewRecordingClient 创建 RecordingClient
func NewRecordingClient() *RecordingClient {
	return &RecordingClient{}
}

// WithError 让后续 SendAudio 返回 err
func (c *RecordingClient) WithError(err error) *RecordingClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

// SendAudio 记录音频
func (c *RecordingClient) SendAudio(_ context.Context, speaker types.SpeakerID, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, ClientChunk{Speaker: speaker, Audio: audio, At: time.Now()})
	return nil
}

// Chunks 返回全部记录
func (c *RecordingClient) Chunks() []ClientChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ClientChunk(nil), c.chunks...)
}

// Count 返回 speaker 发出的片段数
func (c *RecordingClient) Count(speaker types.SpeakerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ch := range c.chunks {
		if ch.Speaker == speaker {
			n++
		}
	}
	return n
}

// Speakers 按首次出现顺序返回发声者
func (c *RecordingClient) Speakers() []types.SpeakerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[types.SpeakerID]bool)
	var out []types.SpeakerID
	for _, ch := range c.chunks {
		if !seen[ch.Speaker] {
			seen[ch.Speaker] = true
			out = append(out, ch.Speaker)
		}
	}
	return out
}
