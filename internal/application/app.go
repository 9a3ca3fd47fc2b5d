package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/policy"
	"github.com/domekit/domekit/internal/domain/service"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/embedding"
	"github.com/domekit/domekit/internal/infrastructure/llm"
	_ "github.com/domekit/domekit/internal/infrastructure/llm/ollama" // register ollama adapter factory
	"github.com/domekit/domekit/internal/infrastructure/monitoring"
	"github.com/domekit/domekit/internal/infrastructure/sideload"
	toolpkg "github.com/domekit/domekit/internal/infrastructure/tool"
	"github.com/domekit/domekit/internal/infrastructure/vectorstore"
	httpServer "github.com/domekit/domekit/internal/interfaces/http"
)

// Version 运行时版本
const Version = "0.1.0"

// App 应用程序（依赖注入容器）。
// HTTP 面持有策略引擎、注册表、审计存储、模型适配器各一份，
// 启动时装配，关停时逆序释放。
type App struct {
	// 配置
	config   *config.Config
	manifest *config.Manifest
	logger   *zap.Logger

	// 基础设施
	policyEngine *policy.Engine
	registry     *domaintool.Registry
	store        *audit.Store
	adapter      llm.Adapter
	vector       vectorstore.VectorStore
	monitor      *monitoring.Monitor

	// 领域服务
	router *service.ToolRouter

	// 接口层
	httpServer *httpServer.Server
}

// NewApp 创建应用程序
func NewApp(cfg *config.Config, manifest *config.Manifest, logger *zap.Logger) (*App, error) {
	app := &App{
		config:   cfg,
		manifest: manifest,
		logger:   logger,
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	app.initInterfaces()

	return app, nil
}

// NewAppSidecar 创建边车模式的轻量应用：
// 装配策略、注册表、审计、向量/嵌入适配器、模型适配器与进程监控器，不起 HTTP。
func NewAppSidecar(cfg *config.Config, manifest *config.Manifest, logger *zap.Logger) (*App, error) {
	app := &App{
		config:   cfg,
		manifest: manifest,
		logger:   logger,
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	return app, nil
}

func (a *App) initInfrastructure() error {
	// 策略引擎 — 加载后不可变
	a.policyEngine = policy.NewEngine()
	a.policyEngine.LoadManifest(a.manifest)

	// 审计存储 — 运行时唯一的持久状态
	store, err := audit.NewStore(a.manifest.Audit.Path, a.logger)
	if err != nil {
		return fmt.Errorf("create audit store: %w", err)
	}
	a.store = store

	// 嵌入适配器
	var embedder embedding.Embedder
	if a.manifest.Embedding.Backend == "ollama" {
		embedder = embedding.NewOllamaEmbedder(
			a.config.Backend.EmbedBaseURL,
			a.manifest.Embedding.Model,
			a.logger,
		)
	}

	// 向量库适配器
	switch a.manifest.VectorDB.Backend {
	case "lancedb":
		vector, err := vectorstore.NewLanceDBStore(a.config.Vector.StorePath, a.logger)
		if err != nil {
			return fmt.Errorf("create vector store: %w", err)
		}
		a.vector = vector
	case "memory":
		a.vector = vectorstore.NewMemoryStore()
	default:
		a.logger.Warn("Unknown vector_db backend, vector tools disabled",
			zap.String("backend", a.manifest.VectorDB.Backend),
		)
	}

	// 工具注册表 — 启动时构建一次，之后只读
	a.registry = toolpkg.NewBuiltinRegistry(toolpkg.Deps{
		Embedder: embedder,
		Vector:   a.vector,
		Logger:   a.logger,
	})

	// 模型适配器
	adapter, err := llm.CreateAdapter(a.manifest.Models.Backend, llm.AdapterConfig{
		Name:                 a.manifest.Models.Backend,
		BaseURL:              a.config.Backend.BaseURL,
		Timeout:              a.config.Backend.Timeout,
		NoNativeToolFamilies: a.config.Backend.NoNativeToolFamilies,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create model adapter: %w", err)
	}
	a.adapter = adapter

	a.monitor = monitoring.NewMonitor(a.logger)

	return nil
}

func (a *App) initDomainServices() error {
	a.router = service.NewToolRouter(a.policyEngine, a.registry, a.store, a.adapter, a.logger)
	a.router.SetMetricsHook(a.monitor)
	return nil
}

func (a *App) initInterfaces() {
	a.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: a.config.Gateway.Host,
			Port: a.config.Gateway.Port,
			Mode: a.config.Gateway.Mode,
		},
		httpServer.Deps{
			Router:       a.router,
			Manifest:     a.manifest,
			Store:        a.store,
			Adapter:      a.adapter,
			Monitor:      a.monitor,
			PollInterval: a.config.Audit.StreamPollInterval,
			Version:      Version,
		},
		a.logger,
	)
}

// SidecarServer 构造边车 stdio 服务
func (a *App) SidecarServer() *sideload.Server {
	return sideload.NewServer(a.policyEngine, a.registry, a.store, a.manifest, a.logger)
}

// Start 启动应用
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("Starting DomeKit runtime",
		zap.String("app", a.manifest.App.Name),
		zap.String("policy_mode", string(a.manifest.Runtime.PolicyMode)),
		zap.String("audit_path", a.manifest.Audit.Path),
	)
	return a.httpServer.Start(ctx)
}

// Stop 逆序关停：HTTP → 向量库 → 审计存储
func (a *App) Stop(ctx context.Context) error {
	var firstErr error

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if closer, ok := a.vector.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Info("DomeKit runtime stopped")
	return firstErr
}
