package tool

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/vectorstore"
)

func testCtx(knobs domaintool.Knobs) *domaintool.Context {
	return &domaintool.Context{
		RequestID:  "req-test",
		AppName:    "tool-test",
		PolicyMode: "local_only",
		Knobs:      knobs,
	}
}

// stubEmbedder 固定向量的嵌入桩
type stubEmbedder struct{ dim int }

func (s *stubEmbedder) ModelName() string { return "stub" }

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = float32(len(text)%7) + float32(j)
		}
		out[i] = vec
	}
	return out, nil
}

// ── sql_query ──

func seedSqlite(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE activities (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rows; i++ {
		if _, err := db.Exec(`INSERT INTO activities (name) VALUES (?)`, "act"); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestSqlQuery_Happy(t *testing.T) {
	dbPath := seedSqlite(t, 3)
	tool := NewSqlQueryTool(zap.NewNop())

	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		SqliteAllow: []string{dbPath},
		MaxRows:     100,
	}), map[string]interface{}{
		"db_path": dbPath,
		"query":   "SELECT COUNT(*) FROM activities",
	})

	if !out.Success {
		t.Fatalf("output: %+v", out)
	}
	result := out.Result.(map[string]interface{})
	if result["truncated"] != false {
		t.Errorf("truncated = %v", result["truncated"])
	}
	rows := result["rows"].([][]interface{})
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSqlQuery_PathNotAllowed(t *testing.T) {
	dbPath := seedSqlite(t, 1)
	tool := NewSqlQueryTool(zap.NewNop())

	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		SqliteAllow: []string{"/somewhere/else.db"},
	}), map[string]interface{}{
		"db_path": dbPath,
		"query":   "SELECT 1",
	})

	if out.Success {
		t.Fatal("disallowed path must fail")
	}
	if !strings.Contains(out.Error, "not allowed") {
		t.Errorf("error = %q", out.Error)
	}
}

func TestSqlQuery_MaxRowsTruncation(t *testing.T) {
	dbPath := seedSqlite(t, 7)
	tool := NewSqlQueryTool(zap.NewNop())
	knobs := domaintool.Knobs{SqliteAllow: []string{dbPath}, MaxRows: 5}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"db_path": dbPath,
		"query":   "SELECT * FROM activities",
	})
	if !out.Success {
		t.Fatalf("output: %+v", out)
	}
	result := out.Result.(map[string]interface{})
	rows := result["rows"].([][]interface{})
	if len(rows) != 5 {
		t.Errorf("rows = %d, want exactly cap", len(rows))
	}
	if result["truncated"] != true {
		t.Error("truncated should be true above cap")
	}

	// 行数 ≤ cap 时不截断
	knobs.MaxRows = 10
	out = tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"db_path": dbPath,
		"query":   "SELECT * FROM activities",
	})
	result = out.Result.(map[string]interface{})
	if result["truncated"] != false {
		t.Error("truncated should be false at or below cap")
	}
}

func TestSqlQuery_MutationRejected(t *testing.T) {
	dbPath := seedSqlite(t, 1)
	tool := NewSqlQueryTool(zap.NewNop())

	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		SqliteAllow: []string{dbPath},
	}), map[string]interface{}{
		"db_path": dbPath,
		"query":   "DELETE FROM activities",
	})

	// 只读打开保证变更被拒绝
	if out.Success {
		t.Fatal("mutation must fail under read-only open")
	}

	db, _ := sql.Open("sqlite3", dbPath)
	defer db.Close()
	var count int
	_ = db.QueryRow("SELECT COUNT(*) FROM activities").Scan(&count)
	if count != 1 {
		t.Errorf("rows were mutated: %d", count)
	}
}

// ── read_file ──

func TestReadFile_HappyAndCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(zap.NewNop())
	knobs := domaintool.Knobs{FSAllowRead: []string{dir}, MaxBytes: 10}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{"path": path})
	if !out.Success {
		t.Fatalf("output: %+v", out)
	}
	content := out.Result.(string)
	if len(content) != 10 {
		t.Errorf("content length = %d, want max_bytes cap", len(content))
	}
}

func TestReadFile_PathTraversalDenied(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(zap.NewNop())
	knobs := domaintool.Knobs{FSAllowRead: []string{dir}}

	// ../ 穿越在规范化后落在前缀之外
	sneaky := filepath.Join(dir, "..", filepath.Base(filepath.Dir(secret)), "secret.txt")
	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{"path": sneaky})
	if out.Success {
		t.Fatal("traversal must be denied")
	}
	if !strings.Contains(out.Error, "not allowed") {
		t.Errorf("error = %q", out.Error)
	}
}

func TestReadFile_InvalidBytesReplaced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.dat")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 'o', 'k'}, 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(zap.NewNop())
	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{FSAllowRead: []string{dir}}),
		map[string]interface{}{"path": path})
	if !out.Success {
		t.Fatalf("output: %+v", out)
	}
	if !strings.Contains(out.Result.(string), "�") {
		t.Errorf("invalid bytes should decode to replacement characters: %q", out.Result)
	}
}

// ── write_file ──

func TestWriteFile_HappyCreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deep", "out.txt")

	tool := NewWriteFileTool(zap.NewNop())
	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		FSAllowWrite: []string{dir},
		MaxBytes:     1024,
	}), map[string]interface{}{"path": target, "content": "hello"})

	if !out.Success {
		t.Fatalf("output: %+v", out)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "hello" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

func TestWriteFile_OversizeLeavesTargetUnchanged(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewWriteFileTool(zap.NewNop())
	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		FSAllowWrite: []string{dir},
		MaxBytes:     4,
	}), map[string]interface{}{"path": target, "content": "way too long"})

	if out.Success {
		t.Fatal("oversize write must fail")
	}
	data, _ := os.ReadFile(target)
	if string(data) != "original" {
		t.Errorf("target changed: %q", data)
	}
}

func TestWriteFile_PrefixDenied(t *testing.T) {
	tool := NewWriteFileTool(zap.NewNop())
	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		FSAllowWrite: []string{t.TempDir()},
	}), map[string]interface{}{"path": "/etc/hosts-copy", "content": "x"})

	if out.Success {
		t.Fatal("write outside prefixes must fail")
	}
}

// ── vector_search ──

func TestVectorSearch_CollectionDenied(t *testing.T) {
	tool := NewVectorSearchTool(&stubEmbedder{dim: 4}, vectorstore.NewMemoryStore(), zap.NewNop())

	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		VectorAllow: []string{"docs_*"},
	}), map[string]interface{}{"collection": "private", "query": "x"})

	if out.Success {
		t.Fatal("collection outside globs must fail")
	}
	if !strings.Contains(out.Error, "not allowed") {
		t.Errorf("error = %q", out.Error)
	}
}

func TestVectorSearch_RequiresExactlyOneQueryForm(t *testing.T) {
	tool := NewVectorSearchTool(&stubEmbedder{dim: 4}, vectorstore.NewMemoryStore(), zap.NewNop())
	knobs := domaintool.Knobs{VectorAllow: []string{"*"}, DefaultTopK: 5}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{"collection": "docs"})
	if out.Success {
		t.Fatal("neither query nor query_vector must fail")
	}

	out = tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection":   "docs",
		"query":        "x",
		"query_vector": []interface{}{1.0, 2.0, 3.0, 4.0},
	})
	if out.Success {
		t.Fatal("both query and query_vector must fail")
	}
}

func TestVectorSearch_EmbedsAndScores(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	embedder := &stubEmbedder{dim: 4}
	manage := NewVectorManageTool(embedder, store, zap.NewNop())
	search := NewVectorSearchTool(embedder, store, zap.NewNop())

	knobs := domaintool.Knobs{
		VectorAllow:      []string{"docs"},
		VectorAllowWrite: []string{"docs"},
		DefaultTopK:      10,
	}

	ins := manage.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection": "docs",
		"operation":  "insert",
		"documents": []interface{}{
			map[string]interface{}{"text": "alpha"},
			map[string]interface{}{"text": "beta"},
		},
	})
	if !ins.Success {
		t.Fatalf("insert: %+v", ins)
	}

	out := search.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection": "docs",
		"query":      "alpha",
	})
	if !out.Success {
		t.Fatalf("search: %+v", out)
	}
	result := out.Result.(map[string]interface{})
	results := result["results"].([]vectorstore.SearchResult)
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	for _, r := range results {
		if r.Score <= 0 || r.Score > 1 {
			t.Errorf("score out of 1/(1+d) range: %v", r.Score)
		}
	}
}

// ── vector_manage ──

func TestVectorManage_WriteDeniedByGlob(t *testing.T) {
	tool := NewVectorManageTool(&stubEmbedder{dim: 4}, vectorstore.NewMemoryStore(), zap.NewNop())

	out := tool.Run(context.Background(), testCtx(domaintool.Knobs{
		VectorAllowWrite: []string{"docs_rw"},
	}), map[string]interface{}{
		"collection": "docs_ro",
		"operation":  "insert",
		"documents":  []interface{}{map[string]interface{}{"text": "x"}},
	})

	if out.Success {
		t.Fatal("write outside allow_write must fail")
	}
}

func TestVectorManage_InsertAssignsIDs(t *testing.T) {
	tool := NewVectorManageTool(&stubEmbedder{dim: 4}, vectorstore.NewMemoryStore(), zap.NewNop())
	knobs := domaintool.Knobs{VectorAllowWrite: []string{"*"}}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection": "docs",
		"operation":  "insert",
		"documents": []interface{}{
			map[string]interface{}{"id": "given", "text": "a"},
			map[string]interface{}{"text": "b"},
		},
	})
	if !out.Success {
		t.Fatalf("insert: %+v", out)
	}
	result := out.Result.(map[string]interface{})
	ids := result["ids"].([]string)
	if len(ids) != 2 || ids[0] != "given" || ids[1] == "" {
		t.Errorf("ids = %v", ids)
	}
}

func TestVectorManage_DeleteRequiresIDs(t *testing.T) {
	tool := NewVectorManageTool(nil, vectorstore.NewMemoryStore(), zap.NewNop())
	knobs := domaintool.Knobs{VectorAllowWrite: []string{"*"}}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection": "docs",
		"operation":  "delete",
	})
	if out.Success {
		t.Fatal("delete without ids must fail")
	}
}

func TestVectorManage_UnknownOperation(t *testing.T) {
	tool := NewVectorManageTool(nil, vectorstore.NewMemoryStore(), zap.NewNop())
	knobs := domaintool.Knobs{VectorAllowWrite: []string{"*"}}

	out := tool.Run(context.Background(), testCtx(knobs), map[string]interface{}{
		"collection": "docs",
		"operation":  "truncate",
	})
	if out.Success || !strings.Contains(out.Error, "Unknown operation") {
		t.Errorf("output: %+v", out)
	}
}
