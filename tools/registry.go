package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/BaSui01/voicefloor/tools"

// DefaultTimeout 未指定超时时的默认执行超时
const DefaultTimeout = 10 * time.Second

// Func 工具函数
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// RateLimitConfig 速率限制：Window 内最多 MaxCalls 次
type RateLimitConfig struct {
	MaxCalls int
	Window   time.Duration
}

// Metadata 工具元数据
type Metadata struct {
	Declaration types.ToolDeclaration
	Timeout     time.Duration
	RateLimit   *RateLimitConfig
}

type entry struct {
	fn      Func
	meta    Metadata
	limiter *rate.Limiter
}

// instruments 经 OTel MeterProvider 导出的工具指标
type instruments struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		in  instruments
		err error
	)
	in.calls, err = meter.Int64Counter("voicefloor.tool.calls",
		metric.WithDescription("Total number of tool calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return in, err
	}
	in.duration, err = meter.Float64Histogram("voicefloor.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10))
	return in, err
}

// Registry 工具注册表兼执行器
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	tracer  trace.Tracer
	inst    instruments
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger, m *metrics.Collector) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		tools:   make(map[string]entry),
		tracer:  otel.Tracer(instrumentationName),
		logger:  logger.With(zap.String("component", "tools")),
		metrics: m,
	}
	inst, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		r.logger.Warn("failed to create tool instruments", zap.Error(err))
		inst, _ = newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
	}
	r.inst = inst
	return r
}

// Register 注册工具
func (r *Registry) Register(name string, fn Func, meta Metadata) error {
	if fn == nil {
		return fmt.Errorf("tool %s has no function", name)
	}
	if meta.Declaration.Name == "" {
		meta.Declaration.Name = name
	}
	if meta.Declaration.Name != name {
		return fmt.Errorf("tool name mismatch: declaration.Name=%s, register name=%s", meta.Declaration.Name, name)
	}
	if meta.Timeout <= 0 {
		meta.Timeout = DefaultTimeout
	}

	e := entry{fn: fn, meta: meta}
	if rl := meta.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		e.limiter = rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.MaxCalls)), rl.MaxCalls)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = e

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

// Unregister 注销工具
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not found", name))
	}
	delete(r.tools, name)
	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

// Has 报告工具是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Declarations 按名称排序返回全部工具声明，用于建连时告知模型
func (r *Registry) Declarations() []types.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolDeclaration, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.meta.Declaration)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// ⚙️ 执行
// =============================================================================

// Execute 执行一次工具调用。任何失败都以错误结果返回。
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	}
	logger := r.logger
	if id, ok := types.SessionID(ctx); ok {
		attrs = append(attrs, attribute.String("conversation.id", id))
		logger = logger.With(zap.String("conversation_id", id))
	}
	if p, ok := types.PersonaFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("persona", p.String()))
		logger = logger.With(zap.String("persona", p.String()))
	}
	ctx, span := r.tracer.Start(ctx, "tool.execute", trace.WithAttributes(attrs...))
	defer span.End()

	result, status := r.execute(ctx, call, logger)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("tool.status", status))
	if result.IsError() {
		span.SetStatus(codes.Error, result.Error)
	}
	r.metrics.RecordToolCall(call.Name, status, result.Duration)
	set := metric.WithAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.status", status))
	r.inst.calls.Add(ctx, 1, set)
	r.inst.duration.Record(ctx, result.Duration.Seconds(), set)
	return result
}

func (r *Registry) execute(ctx context.Context, call types.ToolCall, logger *zap.Logger) (types.ToolResult, string) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		logger.Warn("tool not found", zap.String("name", call.Name))
		return types.NewToolErrorResult(call, types.NewError(types.ErrToolNotFound, "tool not found: "+call.Name)), "not_found"
	}

	if e.limiter != nil && !e.limiter.Allow() {
		logger.Warn("rate limit exceeded", zap.String("name", call.Name))
		return types.NewToolErrorResult(call, types.NewError(types.ErrToolRateLimited, "rate limit exceeded: "+call.Name)), "rate_limited"
	}

	execCtx, cancel := context.WithTimeout(ctx, e.meta.Timeout)
	defer cancel()

	type outcome struct {
		payload map[string]any
		err     error
	}
	// 带缓冲，超时后工具协程也能正常退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		payload, err := e.fn(execCtx, call.Args)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logger.Warn("tool execution failed", zap.String("name", call.Name), zap.Error(out.err))
			return types.NewToolErrorResult(call, types.NewError(types.ErrToolFailed, out.err.Error()).WithCause(out.err)), "error"
		}
		if out.payload == nil {
			out.payload = map[string]any{}
		}
		logger.Debug("tool executed", zap.String("name", call.Name))
		return types.ToolResult{CallID: call.ID, Name: call.Name, Payload: out.payload}, "ok"
	case <-execCtx.Done():
		logger.Warn("tool execution timeout", zap.String("name", call.Name), zap.Duration("timeout", e.meta.Timeout))
		err := types.NewError(types.ErrToolTimeout, fmt.Sprintf("execution timeout after %s", e.meta.Timeout))
		return types.NewToolErrorResult(call, err), "timeout"
	}
}
