package sideload

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/domain/policy"
	domaintool "github.com/domekit/domekit/internal/domain/tool"
	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
)

// staticTool 返回固定结果的测试工具
type staticTool struct {
	name string
}

func (t *staticTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        t.name,
		Description: "static",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

func (t *staticTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	return domaintool.Ok(tctx.RequestID, t.name, "static-result")
}

func newTestServer(t *testing.T, allowed ...string) (*Server, *audit.Store) {
	t.Helper()

	m := config.DefaultManifest()
	m.App.Name = "sidecar-test"
	m.Policy.Tools.Allow = allowed

	engine := policy.NewEngine()
	engine.LoadManifest(&m)

	registry := domaintool.NewRegistry()
	registry.Register(&staticTool{name: "read_file"})

	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.jsonl"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return NewServer(engine, registry, store, &m, zap.NewNop()), store
}

func roundTrip(t *testing.T, server *Server, requests ...string) []Response {
	t.Helper()

	input := strings.Join(requests, "\n") + "\n"
	var out bytes.Buffer
	if err := server.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

// === Framing ===

func TestServe_Initialize(t *testing.T) {
	server, _ := newTestServer(t, "read_file")

	resps := roundTrip(t, server, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if len(resps) != 1 {
		t.Fatalf("responses = %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("error = %+v", resps[0].Error)
	}

	var result map[string]interface{}
	_ = json.Unmarshal(resps[0].Result, &result)
	if result["name"] != "sidecar-test" {
		t.Errorf("result = %v", result)
	}
}

func TestServe_ToolsList(t *testing.T) {
	server, _ := newTestServer(t, "read_file")

	resps := roundTrip(t, server, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var defs []domaintool.Definition
	_ = json.Unmarshal(resps[0].Result, &defs)
	if len(defs) != 1 || defs[0].Name != "read_file" {
		t.Errorf("defs = %v", defs)
	}
}

func TestServe_UnknownMethod(t *testing.T) {
	server, _ := newTestServer(t)

	resps := roundTrip(t, server, `{"jsonrpc":"2.0","id":3,"method":"nope"}`)
	if resps[0].Error == nil || resps[0].Error.Code != ErrMethodNotFound {
		t.Errorf("response = %+v", resps[0])
	}
}

func TestServe_ParseError(t *testing.T) {
	server, _ := newTestServer(t)

	resps := roundTrip(t, server, `{broken`)
	if resps[0].Error == nil || resps[0].Error.Code != ErrParse {
		t.Errorf("response = %+v", resps[0])
	}
}

// === Policy + audit path ===

func TestServe_ToolCallAllowed(t *testing.T) {
	server, store := newTestServer(t, "read_file")

	resps := roundTrip(t, server,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"read_file","arguments":{}}}`)

	var payload string
	_ = json.Unmarshal(resps[0].Result, &payload)
	if !strings.Contains(payload, "static-result") || !strings.Contains(payload, `"success":true`) {
		t.Errorf("payload = %q", payload)
	}

	entries, _ := audit.ReadAll(store.Path())
	var events []entity.AuditEvent
	for _, e := range entries {
		events = append(events, e.Event)
		if e.Detail["transport"] != "sidecar" {
			t.Errorf("missing sidecar transport tag: %v", e.Detail)
		}
	}
	if len(events) != 2 || events[0] != entity.EventToolCall || events[1] != entity.EventToolResult {
		t.Errorf("events = %v", events)
	}
}

func TestServe_ToolCallDenied(t *testing.T) {
	server, store := newTestServer(t) // 空允许列表

	resps := roundTrip(t, server,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"read_file","arguments":{}}}`)

	var payload string
	_ = json.Unmarshal(resps[0].Result, &payload)
	if !strings.HasPrefix(payload, "Policy denied:") {
		t.Errorf("payload = %q", payload)
	}

	entries, _ := audit.ReadAll(store.Path())
	if len(entries) != 1 || entries[0].Event != entity.EventPolicyBlock {
		t.Errorf("entries = %v", entries)
	}
}

func TestServe_UnknownTool(t *testing.T) {
	server, _ := newTestServer(t, "missing_tool")

	resps := roundTrip(t, server,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"missing_tool"}}`)

	var payload string
	_ = json.Unmarshal(resps[0].Result, &payload)
	if !strings.Contains(payload, "Unknown tool") {
		t.Errorf("payload = %q", payload)
	}
}
