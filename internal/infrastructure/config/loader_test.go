package config

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/domekit/domekit/pkg/errors"
)

const sampleManifest = `
app:
  name: file-analyst
  version: "1.2.0"
runtime:
  policy_mode: local_only
policy:
  tools:
    allow: [sql_query, read_file]
  data:
    sqlite:
      allow: ["/tmp/t.db"]
    filesystem:
      allow_read: ["/tmp/data/*"]
      allow_write: ["/tmp/out/*"]
    vector:
      allow: ["docs_*"]
      allow_write: ["docs_rw"]
  network:
    outbound: deny
    allow_domains: [localhost]
models:
  backend: ollama
  default: qwen3:8b
tools:
  sql_query:
    max_rows: 50
  read_file:
    max_bytes: 4096
audit:
  path: /tmp/audit.jsonl
`

// === Parsing ===

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	if m.App.Name != "file-analyst" || m.App.Version != "1.2.0" {
		t.Errorf("app: %+v", m.App)
	}
	if m.Runtime.PolicyMode != PolicyModeLocalOnly {
		t.Errorf("policy_mode = %q", m.Runtime.PolicyMode)
	}
	if len(m.Policy.Tools.Allow) != 2 {
		t.Errorf("tools.allow = %v", m.Policy.Tools.Allow)
	}
	if m.Models.Default != "qwen3:8b" {
		t.Errorf("models.default = %q", m.Models.Default)
	}
	if got := m.MaxRowsFor("sql_query", 100); got != 50 {
		t.Errorf("MaxRowsFor(sql_query) = %d, want 50", got)
	}
	if got := m.MaxBytesFor("read_file", 65536); got != 4096 {
		t.Errorf("MaxBytesFor(read_file) = %d, want 4096", got)
	}
	if m.Audit.Path != "/tmp/audit.jsonl" {
		t.Errorf("audit.path = %q", m.Audit.Path)
	}
}

// === Defaulting ===

func TestParseManifest_Defaults(t *testing.T) {
	m, err := ParseManifest([]byte("app:\n  name: minimal\n"))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	if m.App.Version != "0.0.1" {
		t.Errorf("default version = %q", m.App.Version)
	}
	if m.Runtime.PolicyMode != PolicyModeLocalOnly {
		t.Errorf("default policy_mode = %q", m.Runtime.PolicyMode)
	}
	if m.Policy.Network.Outbound != "deny" {
		t.Errorf("default outbound = %q", m.Policy.Network.Outbound)
	}
	if m.Audit.Path != "audit.jsonl" {
		t.Errorf("default audit.path = %q", m.Audit.Path)
	}
	if m.VectorDB.DefaultTopK != 10 {
		t.Errorf("default top_k = %d", m.VectorDB.DefaultTopK)
	}
	if m.Embedding.Model != "nomic-embed-text" {
		t.Errorf("default embedding.model = %q", m.Embedding.Model)
	}
	// 下游永远不会看到缺失选项：未给出的列表默认为空切片而非 nil
	if m.Policy.Tools.Allow == nil {
		t.Error("tools.allow should default to empty, not nil")
	}
}

// === Unknown keys ===

func TestParseManifest_UnknownTopLevelIgnored(t *testing.T) {
	doc := "app:\n  name: x\nsome_future_section:\n  whatever: 1\n"
	if _, err := ParseManifest([]byte(doc)); err != nil {
		t.Fatalf("unknown top-level section must be ignored: %v", err)
	}
}

func TestParseManifest_UnknownSectionKeyRejected(t *testing.T) {
	doc := "app:\n  name: x\n  nickname: y\n"
	_, err := ParseManifest([]byte(doc))
	if err == nil {
		t.Fatal("unknown key inside a known section must be rejected")
	}
	if !apperrors.IsManifestInvalid(err) {
		t.Errorf("expected ManifestInvalid, got %v", err)
	}
}

// === Validation ===

func TestParseManifest_MissingAppName(t *testing.T) {
	if _, err := ParseManifest([]byte("runtime:\n  policy_mode: local_only\n")); err == nil {
		t.Fatal("missing app.name must be rejected")
	}
}

func TestParseManifest_BadPolicyMode(t *testing.T) {
	doc := "app:\n  name: x\nruntime:\n  policy_mode: yolo\n"
	if _, err := ParseManifest([]byte(doc)); err == nil {
		t.Fatal("invalid policy_mode must be rejected")
	}
}

// === File loading ===

func TestLoadManifest_NotFound(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLoadManifest_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domekit.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.App.Name != "file-analyst" {
		t.Errorf("app.name = %q", m.App.Name)
	}
}

func TestManifestPathFromEnv(t *testing.T) {
	t.Setenv(EnvManifestPath, "/srv/app/domekit.yaml")
	if got := ManifestPathFromEnv(); got != "/srv/app/domekit.yaml" {
		t.Errorf("path = %q", got)
	}

	t.Setenv(EnvManifestPath, "")
	if got := ManifestPathFromEnv(); got != DefaultManifestPath {
		t.Errorf("default path = %q", got)
	}
}
