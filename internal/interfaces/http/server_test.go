package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/domain/policy"
	"github.com/domekit/domekit/internal/domain/service"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/monitoring"
	"github.com/domekit/domekit/internal/interfaces/http/handlers"
	ws "github.com/domekit/domekit/internal/interfaces/websocket"
)

// stubAdapter 回固定文本；Reachability 恒真
type stubAdapter struct {
	reply string
}

func (a *stubAdapter) Chat(ctx context.Context, messages []entity.Message, model string, tools []map[string]interface{}) (entity.Message, error) {
	return entity.NewTextMessage(entity.RoleAssistant, a.reply), nil
}

func (a *stubAdapter) Reachability(ctx context.Context) (bool, []string) {
	return true, []string{"qwen3:8b"}
}

func (a *stubAdapter) Name() string { return "stub" }

type testEnv struct {
	engine   *gin.Engine
	store    *audit.Store
	manifest *config.Manifest
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := config.DefaultManifest()
	m.App.Name = "http-test"
	m.Models.Default = "qwen3:8b"
	manifest := &m

	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.jsonl"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	engine := policy.NewEngine()
	engine.LoadManifest(manifest)

	adapter := &stubAdapter{reply: "3 activities"}
	registry := domaintool.NewRegistry()
	router := service.NewToolRouter(engine, registry, store, adapter, zap.NewNop())
	monitor := monitoring.NewMonitor(zap.NewNop())

	logger := zap.NewNop()
	ginEngine := gin.New()
	ginEngine.Use(loopbackCORS())

	chatHandler := handlers.NewChatHandler(router, manifest, monitor, logger)
	auditHandler := handlers.NewAuditHandler(store, 50*time.Millisecond, logger)
	obsHandler := handlers.NewObservabilityHandler(store, manifest, adapter, monitor, "0.1.0", logger)
	wsHandler := ws.NewHandler(store, 50*time.Millisecond, logger)

	setupRoutes(ginEngine, chatHandler, auditHandler, obsHandler, wsHandler, monitor)

	return &testEnv{engine: ginEngine, store: store, manifest: manifest}
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	return w
}

// === Chat endpoint ===

func TestChatCompletions_Happy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Count"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp entity.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "stop" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if !strings.Contains(resp.Choices[0].Message.Text(), "3") {
		t.Errorf("content = %q", resp.Choices[0].Message.Text())
	}
	if resp.Trace.RequestID == "" || resp.Trace.PolicyMode != "local_only" {
		t.Errorf("trace = %+v", resp.Trace)
	}

	// 审计留下 start/end
	events, _ := env.store.ByRequest(resp.ID)
	if len(events) != 2 {
		t.Errorf("audit events = %v", events)
	}
}

func TestChatCompletions_EmptyMessages(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

// === Audit endpoints ===

func seedAudit(t *testing.T, env *testEnv) {
	t.Helper()
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := entity.NewAuditEntry("seeded", entity.EventToolCall)
		e.TS = base.Add(time.Duration(i) * time.Minute)
		if err := env.store.Append(e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAuditLogs_Pagination(t *testing.T) {
	env := newTestEnv(t)
	seedAudit(t, env)

	w := env.do(t, http.MethodGet, "/v1/domekit/audit/logs?event=tool.call&limit=2&offset=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Entries []entity.AuditEntry `json:"entries"`
		Total   int                 `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 5 || len(body.Entries) != 2 {
		t.Errorf("total = %d, page = %d", body.Total, len(body.Entries))
	}
}

func TestAuditLogs_ParamValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/v1/domekit/audit/logs?limit=0",
		"/v1/domekit/audit/logs?limit=5000",
		"/v1/domekit/audit/logs?offset=-1",
		"/v1/domekit/audit/logs?event=bogus.event",
		"/v1/domekit/audit/logs?since=not-a-time",
	} {
		if w := env.do(t, http.MethodGet, path, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

func TestAuditByRequest(t *testing.T) {
	env := newTestEnv(t)
	seedAudit(t, env)

	w := env.do(t, http.MethodGet, "/v1/domekit/audit/seeded", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var entries []entity.AuditEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Errorf("entries = %d", len(entries))
	}

	// 未知 request_id → 空数组而非 null
	w = env.do(t, http.MethodGet, "/v1/domekit/audit/nope", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q", w.Body.String())
	}
}

// === Health ===

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/domekit/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	manifest := body["manifest"].(map[string]interface{})
	if manifest["app"] != "http-test" || manifest["policy_mode"] != "local_only" {
		t.Errorf("manifest = %v", manifest)
	}
	reach := body["backend_reachability"].(map[string]interface{})
	if reach["reachable"] != true {
		t.Errorf("reachability = %v", reach)
	}
}

// === Metrics + alerts ===

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedAudit(t, env)

	w := env.do(t, http.MethodGet, "/v1/domekit/metrics?window=60", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	for _, key := range []string{"throughput", "latency", "tool_usage", "error_rates", "summary"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q in metrics payload", key)
		}
	}

	if w := env.do(t, http.MethodGet, "/v1/domekit/metrics?window=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("window=0 status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/v1/domekit/metrics?window=9999", ""); w.Code != http.StatusBadRequest {
		t.Errorf("window=9999 status = %d", w.Code)
	}
}

func TestSecurityAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	e := entity.NewAuditEntry("r1", entity.EventToolCall).
		WithDetail("tool", "read_file").
		WithDetail("arguments", map[string]interface{}{"path": "../../etc/passwd"})
	if err := env.store.Append(e); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/v1/domekit/security/alerts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Alerts []map[string]interface{} `json:"alerts"`
		Total  int                      `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total == 0 {
		t.Fatal("expected at least one alert")
	}
	if body.Alerts[0]["type"] != "path_traversal" || body.Alerts[0]["severity"] != "high" {
		t.Errorf("alert = %v", body.Alerts[0])
	}

	if w := env.do(t, http.MethodGet, "/v1/domekit/security/alerts?limit=900", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=900 status = %d", w.Code)
	}
}

// === CORS ===

func TestLoopbackCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/domekit/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("loopback origin not allowed: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/domekit/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("non-loopback origin must not be allowed: %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
}

// === Prometheus 进程指标 ===

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// 先打一个请求让计数非零
	env.do(t, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "domekit_requests_total 1") {
		t.Errorf("metrics body:\n%s", w.Body.String())
	}
}
