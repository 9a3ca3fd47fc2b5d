package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OllamaEmbedder generates embeddings via the Ollama HTTP API.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// embedRequest matches the Ollama /api/embed payload
type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"` // string or []string
}

// embedResponse matches the Ollama /api/embed response
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedding adapter.
// The constructor does not touch the backend; errors surface on first use.
func NewOllamaEmbedder(baseURL, model string, logger *zap.Logger) *OllamaEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		baseURL: trimTrailingSlash(baseURL),
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(zap.String("component", "ollama-embedder")),
	}
}

var _ Embedder = (*OllamaEmbedder)(nil)

// ModelName returns the embedding model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// EmbedBatch generates embedding vectors for multiple texts in one call.
// Ollama /api/embed natively supports []string input.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := e.baseURL + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts",
			len(embedResp.Embeddings), len(texts))
	}

	return embedResp.Embeddings, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
