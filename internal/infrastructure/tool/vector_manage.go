package tool

import (
	"context"

	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/embedding"
	"github.com/domekit/domekit/internal/infrastructure/vectorstore"
)

// VectorManageTool 向量集合的 insert / update / delete。
// 二次防护：集合名必须匹配 vector_allow_write 中的 glob。
// 缺嵌入的文档自动嵌入；insert 分配 ID（调用方给定或新生成）；
// update 在后端无行级更新时退化为 delete 后重插。
type VectorManageTool struct {
	embedder embedding.Embedder
	store    vectorstore.VectorStore
	logger   *zap.Logger
}

// NewVectorManageTool 创建 vector_manage 工具
func NewVectorManageTool(embedder embedding.Embedder, store vectorstore.VectorStore, logger *zap.Logger) *VectorManageTool {
	return &VectorManageTool{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

var _ domaintool.Tool = (*VectorManageTool)(nil)

// Definition 返回函数调用 schema
func (t *VectorManageTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "vector_manage",
		Description: "Insert, update, or delete documents in a local vector database collection.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"collection": map[string]interface{}{
					"type":        "string",
					"description": "Name of the vector collection.",
				},
				"operation": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"insert", "update", "delete"},
					"description": "Operation to perform.",
				},
				"documents": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "object"},
					"description": "Documents with text and optional metadata.",
				},
				"ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Document IDs (for update/delete).",
				},
			},
			"required":             []string{"collection", "operation"},
			"additionalProperties": false,
		},
	}
}

// Run 执行集合变更
func (t *VectorManageTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	collection := stringArg(args, "collection")
	operation := stringArg(args, "operation")
	ids := stringSliceArg(args, "ids")
	callID := tctx.RequestID

	if collection == "" || operation == "" {
		return domaintool.Fail(callID, "vector_manage", "collection and operation are required")
	}

	if !matchAnyGlob(collection, tctx.Knobs.VectorAllowWrite) {
		return domaintool.Failf(callID, "vector_manage", "Write not allowed for collection: %s", collection)
	}

	if t.store == nil {
		return domaintool.Fail(callID, "vector_manage", "Vector database adapter not configured.")
	}

	docs := parseDocuments(args)

	ctx, cancel := context.WithTimeout(ctx, vectorTimeout)
	defer cancel()

	switch operation {
	case "insert":
		return t.handleInsert(ctx, callID, collection, docs)
	case "update":
		return t.handleUpdate(ctx, callID, collection, ids, docs)
	case "delete":
		return t.handleDelete(ctx, callID, collection, ids)
	}

	return domaintool.Failf(callID, "vector_manage", "Unknown operation: %s", operation)
}

func (t *VectorManageTool) handleInsert(ctx context.Context, callID, collection string, docs []vectorstore.Document) domaintool.Output {
	if len(docs) == 0 {
		return domaintool.Fail(callID, "vector_manage", "No documents provided for insert.")
	}

	docs, err := t.autoEmbed(ctx, docs)
	if err != nil {
		return domaintool.Failf(callID, "vector_manage", "Embedding failed: %v", err)
	}

	insertedIDs, err := t.store.Insert(ctx, collection, docs)
	if err != nil {
		return domaintool.Failf(callID, "vector_manage", "Insert failed: %v", err)
	}

	t.logger.Debug("vector_manage insert",
		zap.String("collection", collection),
		zap.Int("count", len(insertedIDs)),
	)

	return domaintool.Ok(callID, "vector_manage", map[string]interface{}{
		"operation": "insert",
		"ids":       insertedIDs,
		"count":     len(insertedIDs),
	})
}

func (t *VectorManageTool) handleUpdate(ctx context.Context, callID, collection string, ids []string, docs []vectorstore.Document) domaintool.Output {
	if len(ids) == 0 {
		return domaintool.Fail(callID, "vector_manage", "No IDs provided for update.")
	}
	if len(docs) == 0 {
		return domaintool.Fail(callID, "vector_manage", "No documents provided for update.")
	}

	docs, err := t.autoEmbed(ctx, docs)
	if err != nil {
		return domaintool.Failf(callID, "vector_manage", "Embedding failed: %v", err)
	}

	if err := t.store.Update(ctx, collection, ids, docs); err != nil {
		return domaintool.Failf(callID, "vector_manage", "Update failed: %v", err)
	}

	return domaintool.Ok(callID, "vector_manage", map[string]interface{}{
		"operation": "update",
		"ids":       ids,
		"count":     len(ids),
	})
}

func (t *VectorManageTool) handleDelete(ctx context.Context, callID, collection string, ids []string) domaintool.Output {
	if len(ids) == 0 {
		return domaintool.Fail(callID, "vector_manage", "No IDs provided for delete.")
	}

	if err := t.store.Delete(ctx, collection, ids); err != nil {
		return domaintool.Failf(callID, "vector_manage", "Delete failed: %v", err)
	}

	return domaintool.Ok(callID, "vector_manage", map[string]interface{}{
		"operation": "delete",
		"ids":       ids,
		"count":     len(ids),
	})
}

// autoEmbed 为缺嵌入的文档批量生成向量
func (t *VectorManageTool) autoEmbed(ctx context.Context, docs []vectorstore.Document) ([]vectorstore.Document, error) {
	if t.embedder == nil {
		return docs, nil
	}

	var texts []string
	var indices []int
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			texts = append(texts, doc.Text)
			indices = append(indices, i)
		}
	}
	if len(texts) == 0 {
		return docs, nil
	}

	embeddings, err := t.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for j, idx := range indices {
		docs[idx].Embedding = embeddings[j]
	}
	return docs, nil
}

// parseDocuments 解析 documents 参数
func parseDocuments(args map[string]interface{}) []vectorstore.Document {
	raw := sliceArg(args, "documents")
	docs := make([]vectorstore.Document, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		doc := vectorstore.Document{
			ID:       stringArg(m, "id"),
			Text:     stringArg(m, "text"),
			Metadata: mapArg(m, "metadata"),
		}
		doc.Embedding = floatSliceArg(m, "embedding")
		docs = append(docs, doc)
	}
	return docs
}
