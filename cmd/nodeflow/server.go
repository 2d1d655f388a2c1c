package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/internal/server"
	"github.com/BaSui01/nodeflow/internal/telemetry"
	"github.com/BaSui01/nodeflow/llm/providers/openaicompat"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/nodes"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 nodeflow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel
	otel       *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 工作流
	compiler *workflow.Compiler
	engine   *workflow.Engine

	// Handlers
	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler
	eventsHandler   *handlers.EventsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("nodeflow", s.logger)

	// 2. 初始化编译器与执行引擎
	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initEngine 创建编译器、处理器与执行引擎
func (s *Server) initEngine() error {
	s.compiler = workflow.NewCompiler(
		workflow.WithCompilerLogger(s.logger),
		workflow.WithCompileObserver(s.metricsCollector),
	)

	processors, err := s.buildProcessors()
	if err != nil {
		return err
	}

	s.engine = workflow.NewEngine(processors,
		workflow.WithEngineLogger(s.logger),
		workflow.WithMaxConcurrency(s.cfg.Engine.MaxConcurrency),
		workflow.WithNodeTimeout(s.cfg.Engine.NodeTimeout),
		workflow.WithRunRetention(s.cfg.Engine.RunRetention),
		workflow.WithHistoryStore(workflow.NewExecutionHistoryStore(s.cfg.Engine.HistoryCapacity)),
		workflow.WithEventBuffer(s.cfg.Engine.EventBuffer),
		workflow.WithRunObserver(s.metricsCollector),
		workflow.WithTracer(s.otel.Tracer("nodeflow/engine")),
	)

	s.logger.Info("Workflow engine initialized",
		zap.Int("max_concurrency", s.cfg.Engine.MaxConcurrency),
		zap.Duration("node_timeout", s.cfg.Engine.NodeTimeout),
	)
	return nil
}

// buildProcessors 选择处理器集合：配置了 LLM 时调用模型，否则使用预览处理器
func (s *Server) buildProcessors() (*workflow.ProcessorRegistry, error) {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	if s.cfg.Engine.Preview || !s.cfg.LLM.Configured() {
		s.logger.Info("LLM provider not configured, using preview processors")
		return nodes.PreviewProcessors(), nil
	}

	provider, err := openaicompat.New(openaicompat.Config{
		ProviderName: s.cfg.LLM.ProviderName,
		APIKey:       s.cfg.LLM.APIKey,
		BaseURL:      s.cfg.LLM.BaseURL,
		DefaultModel: s.cfg.LLM.Model,
		Timeout:      s.cfg.LLM.Timeout,
		CAFile:       s.cfg.LLM.CAFile,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	s.healthHandler.RegisterCheck(handlers.NewProviderHealthCheck(provider))

	gen := nodes.NewLLMGenerator(provider,
		nodes.WithDefaultModel(s.cfg.LLM.Model),
		nodes.WithRequestTimeout(s.cfg.Engine.NodeTimeout),
		nodes.WithGenerationObserver(s.metricsCollector),
		nodes.WithGeneratorLogger(s.logger),
	)

	s.logger.Info("LLM provider initialized",
		zap.String("provider", provider.Name()),
		zap.String("model", s.cfg.LLM.Model),
	)
	return nodes.ServerProcessors(gen), nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.workflowHandler = handlers.NewWorkflowHandler(s.compiler, s.engine, s.logger)
	s.eventsHandler = handlers.NewEventsHandler(s.engine, s.logger,
		handlers.WithOriginPatterns(originPatterns(s.cfg.Server.CORSAllowedOrigins)),
		handlers.WithEventWriteTimeout(s.cfg.Server.WriteTimeout),
	)
	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if s.configPath != "" {
		loader = loader.WithConfigPath(s.configPath)
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, loader,
		config.WithHotReloadLogger(s.logger),
	)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(_, newConfig *config.Config) {
		if lvl, err := zapcore.ParseLevel(newConfig.Log.Level); err == nil && lvl != s.level.Level() {
			s.level.SetLevel(lvl)
			s.logger.Info("Log level updated", zap.String("level", lvl.String()))
		}
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册所有 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 工作流
	mux.HandleFunc("POST /api/v1/workflows/compile", s.workflowHandler.HandleCompile)
	mux.HandleFunc("POST /api/v1/workflows/run", s.workflowHandler.HandleRun)

	// 运行
	mux.HandleFunc("GET /api/v1/runs", s.workflowHandler.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.workflowHandler.HandleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.workflowHandler.HandleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/history", s.workflowHandler.HandleRunHistory)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.eventsHandler.HandleRunEvents)

	return mux
}

// middlewares 构建中间件链，认证先于限流以便按用户限流
func (s *Server) middlewares(ctx context.Context) []Middleware {
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}

	switch {
	case s.cfg.Server.JWT.Enabled():
		chain = append(chain, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
		s.logger.Info("JWT authentication enabled")
	case len(s.cfg.Server.APIKeys) > 0:
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
		s.logger.Info("API key authentication enabled", zap.Int("keys", len(s.cfg.Server.APIKeys)))
	default:
		s.logger.Warn("No authentication configured, API is open")
	}

	if s.cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	return chain
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(s.routes(), s.middlewares(rateLimiterCtx)...)

	serverConfig := server.Config{
		Name:        "http",
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// 事件流长连接，由 EventsHandler 按条设置写超时
		WriteTimeout:    0,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到 ctx 结束（通常由信号触发）或服务器出错，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if err := s.httpManager.Wait(ctx); err != nil {
		s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

// originPatterns 将 CORS 来源（含 scheme）转换为 websocket 的 host 模式
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		host := o
		for _, scheme := range []string{"https://", "http://"} {
			if h, ok := strings.CutPrefix(o, scheme); ok {
				host = h
				break
			}
		}
		patterns = append(patterns, host)
	}
	return patterns
}
