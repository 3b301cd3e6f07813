package persona

import (
	"context"
	"sync"

	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// DefaultInboxCapacity 默认收件箱容量
const DefaultInboxCapacity = 512

// Inbox 单个 persona 的收件箱。生产者可以有多个，消费者只有所属 worker 的 sender。
type Inbox struct {
	persona  types.SpeakerID
	capacity int

	mu     sync.Mutex
	items  []types.InboxMessage
	closed bool

	// notify 容量为 1，用于唤醒阻塞在 Pop 上的消费者
	notify chan struct{}
	done   chan struct{}

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewInbox 创建收件箱。capacity 非正时使用默认容量。
func NewInbox(persona types.SpeakerID, capacity int, logger *zap.Logger, m *metrics.Collector) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		persona:  persona,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "inbox"), zap.String("persona", persona.String())),
		metrics:  m,
	}
}

// Push 追加一条消息到队尾。
// 超出容量时丢弃最旧的音频；若队列中没有音频且新消息本身是音频，则丢弃新消息。
func (b *Inbox) Push(msg types.InboxMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.NewError(types.ErrInboxClosed, "inbox closed").WithPersona(b.persona)
	}

	if len(b.items) >= b.capacity {
		if idx := b.oldestDroppable(); idx >= 0 {
			b.items = append(b.items[:idx], b.items[idx+1:]...)
			b.metrics.RecordInboxEvent(b.persona.String(), metrics.InboxDroppedOverflow)
		} else if msg.IsDroppable() {
			b.mu.Unlock()
			b.metrics.RecordInboxEvent(b.persona.String(), metrics.InboxDroppedOverflow)
			b.logger.Debug("inbox full, dropping incoming audio")
			return nil
		}
	}

	b.items = append(b.items, msg)
	depth := len(b.items)
	b.mu.Unlock()

	b.metrics.SetInboxDepth(b.persona.String(), depth)
	b.wake()
	return nil
}

// Requeue 把发送失败的消息放回队首。每条消息只允许重试一次，
// 第二次失败时丢弃并返回 false。
func (b *Inbox) Requeue(msg types.InboxMessage) bool {
	msg.Attempts++
	if msg.Attempts > 1 {
		b.metrics.RecordInboxEvent(b.persona.String(), metrics.InboxDroppedRetry)
		b.logger.Warn("dropping message after repeated send failure",
			zap.String("kind", string(msg.Kind)),
			zap.Int("attempts", msg.Attempts))
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append([]types.InboxMessage{msg}, b.items...)
	depth := len(b.items)
	b.mu.Unlock()

	b.metrics.RecordInboxEvent(b.persona.String(), metrics.InboxRequeued)
	b.metrics.SetInboxDepth(b.persona.String(), depth)
	b.wake()
	return true
}

// Pop 取出队首消息，队列为空时阻塞，直到有新消息、ctx 结束或收件箱关闭。
func (b *Inbox) Pop(ctx context.Context) (types.InboxMessage, error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			msg := b.items[0]
			b.items[0] = types.InboxMessage{}
			b.items = b.items[1:]
			depth := len(b.items)
			b.mu.Unlock()
			b.metrics.SetInboxDepth(b.persona.String(), depth)
			return msg, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return types.InboxMessage{}, types.NewError(types.ErrInboxClosed, "inbox closed").WithPersona(b.persona)
		}

		select {
		case <-ctx.Done():
			return types.InboxMessage{}, ctx.Err()
		case <-b.done:
		case <-b.notify:
		}
	}
}

// Len 当前排队数
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close 关闭收件箱。已排队的消息仍可被取出。
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Inbox) oldestDroppable() int {
	for i, m := range b.items {
		if m.IsDroppable() {
			return i
		}
	}
	return -1
}

func (b *Inbox) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
