package tool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/policy"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/embedding"
	"github.com/domekit/domekit/internal/infrastructure/vectorstore"
)

const vectorTimeout = 30 * time.Second

// VectorSearchTool 本地向量库相似度检索。
// 二次防护：集合名必须匹配 vector_allow 中的 glob。
// query 与 query_vector 二选一；文本经嵌入适配器自动向量化。
type VectorSearchTool struct {
	embedder embedding.Embedder
	store    vectorstore.VectorStore
	logger   *zap.Logger
}

// NewVectorSearchTool 创建 vector_search 工具
func NewVectorSearchTool(embedder embedding.Embedder, store vectorstore.VectorStore, logger *zap.Logger) *VectorSearchTool {
	return &VectorSearchTool{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

var _ domaintool.Tool = (*VectorSearchTool)(nil)

// Definition 返回函数调用 schema
func (t *VectorSearchTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "vector_search",
		Description: "Search a local vector database collection by semantic similarity.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"collection": map[string]interface{}{
					"type":        "string",
					"description": "Name of the vector collection.",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to search for (auto-embedded).",
				},
				"query_vector": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "number"},
					"description": "Raw embedding vector (alternative to text query).",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to return.",
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Metadata filters.",
				},
			},
			"required":             []string{"collection"},
			"additionalProperties": false,
		},
	}
}

// Run 执行检索
func (t *VectorSearchTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	collection := stringArg(args, "collection")
	query := stringArg(args, "query")
	queryVector := floatSliceArg(args, "query_vector")
	filters := mapArg(args, "filters")
	callID := tctx.RequestID

	if collection == "" {
		return domaintool.Fail(callID, "vector_search", "collection is required")
	}

	if !matchAnyGlob(collection, tctx.Knobs.VectorAllow) {
		return domaintool.Failf(callID, "vector_search", "Collection not allowed: %s", collection)
	}

	if query == "" && len(queryVector) == 0 {
		return domaintool.Fail(callID, "vector_search",
			"Either 'query' or 'query_vector' must be provided.")
	}
	if query != "" && len(queryVector) > 0 {
		return domaintool.Fail(callID, "vector_search",
			"Provide exactly one of 'query' or 'query_vector'.")
	}

	if t.store == nil {
		return domaintool.Fail(callID, "vector_search", "Vector database adapter not configured.")
	}

	topK := intArg(args, "top_k", tctx.Knobs.DefaultTopK)
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := context.WithTimeout(ctx, vectorTimeout)
	defer cancel()

	if len(queryVector) == 0 {
		if t.embedder == nil {
			return domaintool.Fail(callID, "vector_search",
				"Embedding adapter not configured; provide query_vector instead.")
		}
		vectors, err := t.embedder.EmbedBatch(ctx, []string{query})
		if err != nil {
			return domaintool.Failf(callID, "vector_search", "Embedding failed: %v", err)
		}
		queryVector = vectors[0]
	}

	results, err := t.store.Search(ctx, collection, queryVector, topK, filters)
	if err != nil {
		return domaintool.Failf(callID, "vector_search", "Search failed: %v", err)
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}

	t.logger.Debug("vector_search executed",
		zap.String("collection", collection),
		zap.Int("results", len(results)),
	)

	return domaintool.Ok(callID, "vector_search", map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func matchAnyGlob(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if policy.MatchGlob(pattern, name) {
			return true
		}
	}
	return false
}
