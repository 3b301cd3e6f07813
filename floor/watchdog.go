package floor

import (
	"context"
	"time"

	"github.com/BaSui01/voicefloor/internal/metrics"
	"go.uber.org/zap"
)

// ReclaimHandler 在看门狗回收发言权之后被调用，通常用于刷新该 persona 的转写缓冲。
type ReclaimHandler func(ctx context.Context, r Reclaim)

// Watchdog 自动释放看门狗
type Watchdog struct {
	arbiter   Arbiter
	interval  time.Duration
	onReclaim ReclaimHandler
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewWatchdog 创建看门狗。interval 非正时使用默认 100ms。
func NewWatchdog(arbiter Arbiter, interval time.Duration, onReclaim ReclaimHandler, logger *zap.Logger, m *metrics.Collector) *Watchdog {
	if interval <= 0 {
		interval = DefaultConfig().TickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		arbiter:   arbiter,
		interval:  interval,
		onReclaim: onReclaim,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "watchdog")),
		metrics:   m,
	}
}

// Run 按固定间隔检查，直到 ctx 结束。
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick 执行一次检查，返回是否发生回收。
func (w *Watchdog) Tick(ctx context.Context) bool {
	r, ok := w.arbiter.Reclaim(w.now())
	if !ok {
		return false
	}

	w.metrics.RecordWatchdogReclaim(r.Speaker.String(), string(r.Reason))
	if r.Speaker.IsPersona() {
		w.logger.Warn("reclaimed abandoned turn",
			zap.String("speaker", r.Speaker.String()),
			zap.String("reason", string(r.Reason)))
	}
	if w.onReclaim != nil {
		w.onReclaim(ctx, r)
	}
	return true
}
