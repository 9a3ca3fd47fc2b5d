package embedding

import (
	"context"
)

// Embedder 嵌入后端接口
type Embedder interface {
	// EmbedBatch 为一组文本生成嵌入向量
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName 返回嵌入模型名
	ModelName() string
}
