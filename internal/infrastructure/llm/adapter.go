package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
)

// Adapter is the canonical-message ↔ backend translation layer.
// One Chat call is one backend round trip; the HTTP request is the only
// suspension point inside the adapter.
type Adapter interface {
	// Chat sends the canonical conversation and returns the assistant reply.
	// When tools are declared, the adapter picks native-tools or prompt-tools
	// mode per request based on the model family.
	Chat(ctx context.Context, messages []entity.Message, model string, tools []map[string]interface{}) (entity.Message, error)

	// Reachability probes the backend for the health endpoint.
	Reachability(ctx context.Context) (bool, []string)

	// Name returns the backend identifier (e.g. "ollama")
	Name() string
}

// AdapterConfig holds configuration for a model backend adapter.
type AdapterConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration

	// NoNativeToolFamilies is the closed set of model-family prefixes known
	// not to support native function calling. Runtime configuration, not
	// manifest policy.
	NoNativeToolFamilies []string
}

// --- Adapter Factory Registry ---
// Backends register themselves via init() in their own package.

// AdapterFactory creates an Adapter from config.
type AdapterFactory func(cfg AdapterConfig, logger *zap.Logger) Adapter

var (
	factoryMu sync.RWMutex
	factories = map[string]AdapterFactory{}
)

// RegisterFactory registers an adapter factory for the given backend name.
func RegisterFactory(backend string, factory AdapterFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[backend] = factory
}

// CreateAdapter creates an Adapter using the registered factory for backend.
// An empty backend defaults to "ollama".
func CreateAdapter(backend string, cfg AdapterConfig, logger *zap.Logger) (Adapter, error) {
	if backend == "" {
		backend = "ollama"
	}

	factoryMu.RLock()
	factory, ok := factories[backend]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown model backend %q (available: %v)", backend, available)
	}

	return factory(cfg, logger), nil
}
