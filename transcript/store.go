package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/types"
	"go.uber.org/zap"
)

// Backend 存储后端
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Entry 一条最终转写
type Entry struct {
	Speaker types.SpeakerID `json:"speaker"`
	Text    string          `json:"text"`
	At      time.Time       `json:"at"`
}

// Store 转写存储
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent 按时间顺序返回最近的 n 条
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Config 存储配置
type Config struct {
	Backend    Backend       `yaml:"backend" json:"backend"`
	Addr       string        `yaml:"addr" json:"addr"`
	Password   string        `yaml:"password" json:"password"`
	DB         int           `yaml:"db" json:"db"`
	KeyPrefix  string        `yaml:"key_prefix" json:"key_prefix"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	// TLS 为 true 时以加固的 TLS 配置连接 Redis
	TLS bool `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		Addr:       "localhost:6379",
		KeyPrefix:  "voicefloor:transcript",
		MaxEntries: 200,
		TTL:        24 * time.Hour,
	}
}

// New 按配置创建存储。conversation 区分同一 Redis 中的不同对话。
func New(cfg Config, conversation string, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(cfg.MaxEntries), nil
	case BackendRedis:
		return NewRedisStore(cfg, conversation, logger)
	default:
		return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown transcript backend %q", cfg.Backend))
	}
}

// FormatHistory 把转写渲染成回放给模型的文本，names 用于把 ID 换成显示名。
func FormatHistory(entries []Entry, names map[types.SpeakerID]string) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, e := range entries {
		name := names[e.Speaker]
		if name == "" {
			name = e.Speaker.String()
		}
		fmt.Fprintf(&b, "%s: %s\n", name, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// =============================================================================
// 🧠 内存存储
// =============================================================================

// MemoryStore 进程内存储，超过上限时丢弃最旧记录
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	closed  bool
}

// NewMemoryStore 创建内存存储。max 非正时使用默认上限。
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = DefaultConfig().MaxEntries
	}
	return &MemoryStore{max: max}
}

// Append 追加一条记录
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NewError(types.ErrTranscriptStoreError, "transcript store is closed")
	}
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

// Recent 返回最近 n 条
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrTranscriptStoreError, "transcript store is closed")
	}
	if n <= 0 {
		return nil, nil
	}
	start := len(s.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), s.entries[start:]...), nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
