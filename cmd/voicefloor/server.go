package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/voicefloor/config"
	"github.com/BaSui01/voicefloor/internal/clientws"
	"github.com/BaSui01/voicefloor/internal/metrics"
	"github.com/BaSui01/voicefloor/internal/server"
	"github.com/BaSui01/voicefloor/orchestrator"
	"github.com/BaSui01/voicefloor/persona"
	"github.com/BaSui01/voicefloor/realtime"
	"github.com/BaSui01/voicefloor/tools"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// conversationPath 客户端会话的 WebSocket 端点
const conversationPath = "/v1/conversation"

// Server 是 VoiceFloor 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	metricsCollector *metrics.Collector
	tools            *tools.Registry
	dialer           realtime.Dialer
	sessions         *clientws.Handler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// ServerOption 配置 Server
type ServerOption func(*Server)

// WithDialer 替换远端模型拨号器
func WithDialer(d realtime.Dialer) ServerOption {
	return func(s *Server) { s.dialer = d }
}

// WithMetricsCollector 替换指标收集器
func WithMetricsCollector(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metricsCollector = c }
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动所有监听器
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// init 构造指标、工具、拨号器与会话处理器
func (s *Server) init(ctx context.Context) error {
	if s.metricsCollector == nil {
		s.metricsCollector = metrics.NewCollector("voicefloor", s.logger)
	}

	s.tools = tools.NewRegistry(s.logger, s.metricsCollector)
	if err := tools.RegisterBuiltins(s.tools); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	if s.dialer == nil {
		m := s.cfg.Model
		dialer, err := realtime.NewDialer(ctx, realtime.Config{
			Provider:         realtime.Provider(m.Provider),
			URL:              m.URL,
			Model:            m.Model,
			APIKey:           m.APIKey,
			InputSampleRate:  m.InputSampleRate,
			OutputSampleRate: m.OutputSampleRate,
			DialTimeout:      m.DialTimeout,
			Tools:            s.tools.Declarations(),
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create realtime dialer: %w", err)
		}
		s.dialer = dialer
	}

	wsCfg := clientws.DefaultConfig()
	wsCfg.OriginPatterns = s.cfg.Server.AllowedOrigins
	if s.cfg.Server.WriteTimeout > 0 {
		wsCfg.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		wsCfg.StopTimeout = s.cfg.Server.ShutdownTimeout
	}
	s.sessions = clientws.NewHandler(s.newConversation, wsCfg, s.logger, s.metricsCollector)
	return nil
}

// newConversation 为一条客户端连接创建编排器
func (s *Server) newConversation(id string, client persona.ClientRelay) (clientws.Conversation, error) {
	return orchestrator.New(s.cfg.Personas, s.dialer, client, orchestrator.FromConfig(s.cfg),
		orchestrator.WithConversationID(id),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithMetrics(s.metricsCollector),
		orchestrator.WithTools(s.tools),
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建带中间件的会话端口路由
func (s *Server) routes(limiterCtx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle(conversationPath, s.sessions)

	skipAuthPaths := []string{"/health", "/healthz", "/version"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(limiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)
}

// startHTTPServer 启动会话端口
func (s *Server) startHTTPServer() error {
	limiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	// WebSocket 会话是长连接，只限制请求头读取时间
	cfg := server.FromServerConfig("http", s.cfg.Server, s.cfg.Server.HTTPPort)
	cfg.ReadTimeout = 0
	cfg.WriteTimeout = 0

	s.httpManager = server.NewManager(s.routes(limiterCtx), cfg, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := server.FromServerConfig("metrics", s.cfg.Server, s.cfg.Server.MetricsPort)
	s.metricsManager = server.NewManager(mux, cfg, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Personas       int    `json:"personas"`
	FloorMode      string `json:"floor_mode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        Version,
		ActiveSessions: s.sessions.Active(),
		Personas:       len(s.cfg.Personas),
		FloorMode:      s.cfg.Floor.Mode,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 取消或监听器出错，然后优雅关闭
func (s *Server) Wait(ctx context.Context) error {
	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err = <-s.httpManager.Errors():
		s.logger.Error("HTTP server failed", zap.Error(err))
	case err = <-s.metricsManager.Errors():
		s.logger.Error("Metrics server failed", zap.Error(err))
	}
	s.Shutdown()
	return err
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 结束所有对话，客户端收到 going away
	var errs []error
	if s.sessions != nil {
		if err := s.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
	}

	// 2. 关闭会话端口
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}

	// 3. 关闭 Metrics 端口
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown error", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
