package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/internal/tlsutil"
	"github.com/BaSui01/voicefloor/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 存储
// =============================================================================

// RedisStore 以 Redis list 保存转写，RPUSH + LTRIM 保持上限
type RedisStore struct {
	client *redis.Client
	key    string
	max    int
	ttl    time.Duration
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore 创建 Redis 存储并检查连接
func NewRedisStore(cfg Config, conversation string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		opts.TLSConfig = tlsutil.ClientConfig(host)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrTranscriptStoreError, "failed to connect to redis").WithCause(err)
	}

	s := &RedisStore{
		client: client,
		key:    fmt.Sprintf("%s:%s", cfg.KeyPrefix, conversation),
		max:    cfg.MaxEntries,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "transcript_redis")),
	}
	s.logger.Info("transcript store initialized",
		zap.String("addr", cfg.Addr),
		zap.String("key", s.key))
	return s, nil
}

// Append 追加一条记录
func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrTranscriptStoreError, "transcript store is closed")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, int64(-s.max), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("transcript append failed", zap.Error(err))
		return types.NewError(types.ErrTranscriptStoreError, "transcript append failed").WithCause(err)
	}
	return nil
}

// Recent 返回最近 n 条，无法解析的记录被跳过
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.NewError(types.ErrTranscriptStoreError, "transcript store is closed")
	}
	if n <= 0 {
		return nil, nil
	}

	vals, err := s.client.LRange(ctx, s.key, int64(-n), -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptStoreError, "transcript read failed").WithCause(err)
	}

	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("skipping malformed transcript entry", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.NewError(types.ErrTranscriptStoreError, "transcript store is closed")
	}
	return s.client.Ping(ctx).Err()
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
