package http

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/service"
	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/llm"
	"github.com/domekit/domekit/internal/infrastructure/monitoring"
	"github.com/domekit/domekit/internal/interfaces/http/handlers"
	ws "github.com/domekit/domekit/internal/interfaces/websocket"
	"github.com/domekit/domekit/pkg/safego"
)

// Server HTTP服务器。缺省绑定回环；无鉴权，信任本机调用方。
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// Deps 服务器依赖 — 启动时装配，关停时逆序释放
type Deps struct {
	Router       *service.ToolRouter
	Manifest     *config.Manifest
	Store        *audit.Store
	Adapter      llm.Adapter
	Monitor      *monitoring.Monitor
	PollInterval time.Duration
	Version      string
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(loopbackCORS())

	// 初始化处理器
	chatHandler := handlers.NewChatHandler(deps.Router, deps.Manifest, deps.Monitor, logger)
	auditHandler := handlers.NewAuditHandler(deps.Store, deps.PollInterval, logger)
	obsHandler := handlers.NewObservabilityHandler(
		deps.Store, deps.Manifest, deps.Adapter, deps.Monitor, deps.Version, logger)
	wsHandler := ws.NewHandler(deps.Store, deps.PollInterval, logger)

	// 注册路由
	setupRoutes(router, chatHandler, auditHandler, obsHandler, wsHandler, deps.Monitor)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	safego.Go(s.logger, "http-serve", func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	})

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(
	router *gin.Engine,
	chatHandler *handlers.ChatHandler,
	auditHandler *handlers.AuditHandler,
	obsHandler *handlers.ObservabilityHandler,
	wsHandler *ws.Handler,
	monitor *monitoring.Monitor,
) {
	// OpenAI 兼容入口
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
	}

	// DomeKit 管理面
	dk := router.Group("/v1/domekit")
	{
		dk.GET("/health", obsHandler.Health)
		dk.GET("/audit/logs", auditHandler.Logs)
		dk.GET("/audit/stream", auditHandler.Stream)
		dk.GET("/audit/ws", wsHandler.StreamAudit)
		dk.GET("/audit/:request_id", auditHandler.ByRequest)
		dk.GET("/security/alerts", obsHandler.SecurityAlerts)
		dk.GET("/metrics", obsHandler.Metrics)
	}

	// 进程级 Prometheus 指标（区别于 /v1/domekit/metrics 的审计聚合）
	router.GET("/metrics", gin.WrapH(monitor.PrometheusHandler()))
}

var loopbackOriginRe = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// loopbackCORS 只允许回环来源的跨域访问
func loopbackCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && loopbackOriginRe.MatchString(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Accept")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
