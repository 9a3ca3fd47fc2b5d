package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
	"github.com/lancedb/lancedb-go/pkg/contracts"
	"github.com/lancedb/lancedb-go/pkg/lancedb"
	"go.uber.org/zap"
)

// LanceDBStore implements VectorStore using LanceDB. Each collection maps to
// one LanceDB table. Tables are created lazily on first insert; the vector
// dimension is taken from the first embedded document.
type LanceDBStore struct {
	storePath string
	conn      contracts.IConnection
	logger    *zap.Logger

	mu     sync.Mutex
	tables map[string]contracts.ITable
	dims   map[string]int
}

// NewLanceDBStore opens (or creates) a LanceDB database directory.
func NewLanceDBStore(storePath string, logger *zap.Logger) (*LanceDBStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := expandPath(storePath)
	if err != nil {
		return nil, fmt.Errorf("expand store path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	conn, err := lancedb.Connect(context.Background(), absPath, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to LanceDB at %s: %w", absPath, err)
	}

	logger.Info("LanceDB vector store initialized",
		zap.String("path", absPath),
	)

	return &LanceDBStore{
		storePath: absPath,
		conn:      conn,
		logger:    logger.With(zap.String("component", "lancedb-store")),
		tables:    make(map[string]contracts.ITable),
		dims:      make(map[string]int),
	}, nil
}

var _ VectorStore = (*LanceDBStore)(nil)

// Close releases LanceDB resources.
func (s *LanceDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		t.Close()
	}
	s.tables = map[string]contracts.ITable{}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// Search queries a collection by vector similarity.
func (s *LanceDBStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filters map[string]interface{}) ([]SearchResult, error) {
	table, _, err := s.openTable(ctx, collection)
	if err != nil {
		// Unknown collection reads as empty, not as an error
		return []SearchResult{}, nil
	}

	filterExpr := buildFilterExpr(filters)

	var rows []map[string]interface{}
	if filterExpr != "" {
		rows, err = table.VectorSearchWithFilter(ctx, "vector", queryVector, topK, filterExpr)
	} else {
		rows, err = table.VectorSearch(ctx, "vector", queryVector, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("LanceDB vector search failed: %w", err)
	}

	// Keys other than id/text are matched against the decoded metadata here.
	metaFilters := make(map[string]interface{}, len(filters))
	for k, v := range filters {
		if k != "id" && k != "text" {
			metaFilters[k] = v
		}
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		if r, ok := rowToResult(row); ok && matchFilters(r.Metadata, metaFilters) {
			results = append(results, r)
		}
	}
	return results, nil
}

// Insert stores documents, creating the table on first use.
// Returns the assigned document IDs.
func (s *LanceDBStore) Insert(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	dim := 0
	for _, d := range docs {
		if len(d.Embedding) > 0 {
			dim = len(d.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil, fmt.Errorf("no embedded documents to insert")
	}

	table, tableDim, err := s.openOrCreateTable(ctx, collection, dim)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		record, err := s.docToRecord(doc, tableDim)
		if err != nil {
			return nil, fmt.Errorf("build Arrow record: %w", err)
		}
		addErr := table.Add(ctx, record, nil)
		record.Release()
		if addErr != nil {
			return nil, fmt.Errorf("LanceDB insert failed: %w", addErr)
		}
		ids = append(ids, doc.ID)
	}

	return ids, nil
}

// Update replaces documents by ID. LanceDB has no row-level update, so this
// is a delete followed by a re-insert.
func (s *LanceDBStore) Update(ctx context.Context, collection string, ids []string, docs []Document) error {
	if len(ids) != len(docs) {
		return fmt.Errorf("ids and documents length mismatch: %d vs %d", len(ids), len(docs))
	}

	if err := s.Delete(ctx, collection, ids); err != nil {
		s.logger.Debug("Pre-update delete failed (documents may not exist yet)",
			zap.Error(err),
		)
	}

	for i := range docs {
		docs[i].ID = ids[i]
	}
	_, err := s.Insert(ctx, collection, docs)
	return err
}

// Delete removes documents by ID.
func (s *LanceDBStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	table, _, err := s.openTable(ctx, collection)
	if err != nil {
		return fmt.Errorf("collection not found: %s", collection)
	}

	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, "'"+strings.ReplaceAll(id, "'", "''")+"'")
	}
	expr := fmt.Sprintf("id IN (%s)", strings.Join(quoted, ", "))

	if err := table.Delete(ctx, expr); err != nil {
		return fmt.Errorf("LanceDB delete failed: %w", err)
	}
	return nil
}

// ListCollections lists table directories under the store path.
func (s *LanceDBStore) ListCollections(ctx context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(s.storePath)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".lance") {
			names = append(names, strings.TrimSuffix(e.Name(), ".lance"))
		}
	}
	return names, nil
}

// ── internal helpers ──

func collectionSchema(dim int) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "text", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32), Nullable: false},
		{Name: "metadata", Type: arrow.BinaryTypes.String, Nullable: true},
	}
	return arrow.NewSchema(fields, nil)
}

func (s *LanceDBStore) openTable(ctx context.Context, collection string) (contracts.ITable, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[collection]; ok {
		return t, s.dims[collection], nil
	}

	table, err := s.conn.OpenTable(ctx, collection)
	if err != nil {
		return nil, 0, err
	}
	s.tables[collection] = table
	return table, s.dims[collection], nil
}

func (s *LanceDBStore) openOrCreateTable(ctx context.Context, collection string, dim int) (contracts.ITable, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[collection]; ok {
		if d := s.dims[collection]; d > 0 {
			dim = d
		}
		return t, dim, nil
	}

	table, err := s.conn.OpenTable(ctx, collection)
	if err != nil {
		schema, schemaErr := lancedb.NewSchema(collectionSchema(dim))
		if schemaErr != nil {
			return nil, 0, fmt.Errorf("create LanceDB schema: %w", schemaErr)
		}
		table, err = s.conn.CreateTable(ctx, collection, schema)
		if err != nil {
			return nil, 0, fmt.Errorf("create table %s: %w", collection, err)
		}
		s.logger.Info("Created LanceDB collection",
			zap.String("collection", collection),
			zap.Int("dimension", dim),
		)
	}

	s.tables[collection] = table
	s.dims[collection] = dim
	return table, dim, nil
}

func (s *LanceDBStore) docToRecord(doc Document, dim int) (arrow.Record, error) {
	pool := arrowmem.NewGoAllocator()

	idB := array.NewStringBuilder(pool)
	idB.Append(doc.ID)
	idArr := idB.NewArray()
	defer idArr.Release()

	textB := array.NewStringBuilder(pool)
	textB.Append(doc.Text)
	textArr := textB.NewArray()
	defer textArr.Release()

	vectorArr, err := buildVectorArray(pool, doc.Embedding, dim)
	if err != nil {
		return nil, err
	}
	defer vectorArr.Release()

	metaJSON, _ := json.Marshal(doc.Metadata)
	metaB := array.NewStringBuilder(pool)
	metaB.Append(string(metaJSON))
	metaArr := metaB.NewArray()
	defer metaArr.Release()

	cols := []arrow.Array{idArr, textArr, vectorArr, metaArr}
	return array.NewRecord(collectionSchema(dim), cols, 1), nil
}

func buildVectorArray(pool arrowmem.Allocator, vec []float32, dim int) (arrow.Array, error) {
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}

	floatB := array.NewFloat32Builder(pool)
	floatB.AppendValues(vec, nil)
	floatArr := floatB.NewArray()
	defer floatArr.Release()

	listType := arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)
	listData := array.NewData(listType, 1, []*arrowmem.Buffer{nil},
		[]arrow.ArrayData{floatArr.Data()}, 0, 0)
	return array.NewFixedSizeListData(listData), nil
}

func buildFilterExpr(filters map[string]interface{}) string {
	if len(filters) == 0 {
		return ""
	}
	// Metadata lives as a JSON string column; only direct columns can be
	// filtered in LanceDB SQL. Only id/text are pushed down; anything else is
	// post-filtered on the decoded metadata in Search.
	var parts []string
	for _, col := range []string{"id", "text"} {
		if v, ok := filters[col].(string); ok {
			parts = append(parts, fmt.Sprintf("%s = '%s'", col, strings.ReplaceAll(v, "'", "''")))
		}
	}
	return strings.Join(parts, " AND ")
}

func rowToResult(row map[string]interface{}) (SearchResult, bool) {
	r := SearchResult{Metadata: map[string]interface{}{}}

	id, ok := row["id"].(string)
	if !ok {
		return r, false
	}
	r.ID = id

	if v, ok := row["text"].(string); ok {
		r.Text = v
	}
	if v, ok := row["metadata"].(string); ok && v != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(v), &meta); err == nil && meta != nil {
			r.Metadata = meta
		}
	}

	// LanceDB returns _distance for vector search results
	if v, ok := toFloat64(row["_distance"]); ok {
		r.Score = DistanceScore(v)
	}

	return r, true
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
