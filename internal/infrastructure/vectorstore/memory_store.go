package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore 纯内存向量库，用于测试与无持久化的小场景
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryStore 创建内存向量库
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Document),
	}
}

var _ VectorStore = (*MemoryStore)(nil)

// Search 线性扫描 + 欧氏距离排序
func (s *MemoryStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filters map[string]interface{}) ([]SearchResult, error) {
	s.mu.RLock()
	docs := s.collections[collection]
	s.mu.RUnlock()

	type scored struct {
		doc      Document
		distance float64
	}

	candidates := make([]scored, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		if !matchFilters(doc.Metadata, filters) {
			continue
		}
		candidates = append(candidates, scored{
			doc:      doc,
			distance: euclidean(queryVector, doc.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		metadata := c.doc.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		results = append(results, SearchResult{
			ID:       c.doc.ID,
			Text:     c.doc.Text,
			Metadata: metadata,
			Score:    DistanceScore(c.distance),
		})
	}
	return results, nil
}

// Insert 插入文档；缺失 ID 自动分配
func (s *MemoryStore) Insert(ctx context.Context, collection string, docs []Document) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		ids = append(ids, doc.ID)
		s.collections[collection] = append(s.collections[collection], doc)
	}
	return ids, nil
}

// Update 按 ID 替换文档（删除后重插）
func (s *MemoryStore) Update(ctx context.Context, collection string, ids []string, docs []Document) error {
	if len(ids) != len(docs) {
		return fmt.Errorf("ids and documents length mismatch: %d vs %d", len(ids), len(docs))
	}

	if err := s.Delete(ctx, collection, ids); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range docs {
		doc.ID = ids[i]
		s.collections[collection] = append(s.collections[collection], doc)
	}
	return nil
}

// Delete 按 ID 删除
func (s *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	kept := docs[:0]
	for _, doc := range docs {
		if !idSet[doc.ID] {
			kept = append(kept, doc)
		}
	}
	s.collections[collection] = kept
	return nil
}

// ListCollections 列出全部集合名，排序
func (s *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func matchFilters(metadata, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
