package gate

import (
	"context"
	"time"

	"github.com/BaSui01/voicefloor/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deliverer 是调度器依赖的播报执行者，*Gate 实现了它
type Deliverer interface {
	Deliver(ctx context.Context, a Announcement) error
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	// MinInterval 两条播报之间的最小间隔，非正时不限速
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
}

// Scheduler 主动播报调度器：排队并按令牌桶节奏逐条播报
type Scheduler struct {
	gate    Deliverer
	queue   chan Announcement
	limiter *rate.Limiter
	logger  *zap.Logger

	// OnResult 每条播报结束后回调，可为空
	OnResult func(a Announcement, err error)
}

// NewScheduler 创建调度器
func NewScheduler(g Deliverer, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Scheduler{
		gate:    g,
		queue:   make(chan Announcement, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With(zap.String("component", "announce_scheduler")),
	}
}

// Submit 排队一条播报并返回其 ID；队列已满时返回 SCHEDULER_QUEUE_FULL
func (s *Scheduler) Submit(a Announcement) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	select {
	case s.queue <- a:
		s.logger.Debug("announcement queued", zap.String("announcement_id", a.ID))
		return a.ID, nil
	default:
		return "", types.NewError(types.ErrSchedulerQueueFull, "announcement queue is full")
	}
}

// Pending 排队中的播报数
func (s *Scheduler) Pending() int { return len(s.queue) }

// Run 逐条播报，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			err := s.gate.Deliver(ctx, a)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("announcement failed",
					zap.String("announcement_id", a.ID),
					zap.Error(err))
			}
			if s.OnResult != nil {
				s.OnResult(a, err)
			}
		}
	}
}
