package tool

import (
	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/embedding"
	"github.com/domekit/domekit/internal/infrastructure/vectorstore"
)

// Deps 工具层外部依赖 — 整个工具子系统的唯一装配点
type Deps struct {
	Embedder embedding.Embedder      // nil = 向量工具不能自动嵌入
	Vector   vectorstore.VectorStore // nil = 向量工具返回未配置错误
	Logger   *zap.Logger
}

// NewBuiltinRegistry 注册全部内置工具。这是唯一的注册入口；
// 新增工具在这里补一行。
func NewBuiltinRegistry(deps Deps) *domaintool.Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := domaintool.NewRegistry()
	registry.Register(NewSqlQueryTool(logger))
	registry.Register(NewReadFileTool(logger))
	registry.Register(NewWriteFileTool(logger))
	registry.Register(NewVectorSearchTool(deps.Embedder, deps.Vector, logger))
	registry.Register(NewVectorManageTool(deps.Embedder, deps.Vector, logger))
	return registry
}
