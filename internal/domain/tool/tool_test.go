package tool

import (
	"context"
	"strings"
	"testing"
)

type fakeTool struct {
	name string
}

func (t *fakeTool) Definition() Definition {
	return Definition{
		Name:        t.name,
		Description: "fake",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *fakeTool) Run(ctx context.Context, tctx *Context, args map[string]interface{}) Output {
	return Ok(tctx.RequestID, t.name, "ok")
}

// === Registry ===

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "b_tool"})
	r.Register(&fakeTool{name: "a_tool"})

	if !r.Has("a_tool") || r.Has("missing") {
		t.Error("Has misbehaves")
	}
	if _, ok := r.Get("b_tool"); !ok {
		t.Error("Get failed")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a_tool" || names[1] != "b_tool" {
		t.Errorf("names = %v", names)
	}
}

func TestRegistry_OpenAIDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read_file"})

	defs := r.OpenAIDefinitions()
	if len(defs) != 1 {
		t.Fatalf("defs = %v", defs)
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
	fn := defs[0]["function"].(map[string]interface{})
	if fn["name"] != "read_file" {
		t.Errorf("function = %v", fn)
	}
}

// === Output constructors ===

func TestOutputConstructors(t *testing.T) {
	ok := Ok("c1", "t", 42)
	if !ok.Success || ok.Error != "" || ok.Result != 42 {
		t.Errorf("Ok = %+v", ok)
	}

	fail := Failf("c1", "t", "bad %s", "input")
	if fail.Success || fail.Error != "bad input" {
		t.Errorf("Failf = %+v", fail)
	}
}

// === Schema validation ===

func TestValidateArgs(t *testing.T) {
	def := (&fakeTool{name: "read_file"}).Definition()

	if err := ValidateArgs(def, map[string]interface{}{"path": "/tmp/a"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}

	err := ValidateArgs(def, map[string]interface{}{})
	if err == nil {
		t.Fatal("missing required property must fail")
	}
	if !strings.Contains(err.Error(), "read_file") {
		t.Errorf("error should name the tool: %v", err)
	}

	if err := ValidateArgs(def, map[string]interface{}{"path": "/a", "extra": 1}); err == nil {
		t.Error("additionalProperties=false must reject extras")
	}

	if err := ValidateArgs(def, map[string]interface{}{"path": 42}); err == nil {
		t.Error("wrong type must fail")
	}
}

func TestValidateArgs_EmptySchemaAllowsAnything(t *testing.T) {
	def := Definition{Name: "open"}
	if err := ValidateArgs(def, map[string]interface{}{"whatever": true}); err != nil {
		t.Errorf("empty schema: %v", err)
	}
}
