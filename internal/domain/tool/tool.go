package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Definition 工具定义，以函数调用 schema 广播给模型
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Output 工具执行结果。成功无 Error；失败的 Result 不可信。
type Output struct {
	CallID   string      `json:"call_id"`
	ToolName string      `json:"tool_name"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Success  bool        `json:"success"`
}

// Ok 构造成功结果
func Ok(callID, toolName string, result interface{}) Output {
	return Output{CallID: callID, ToolName: toolName, Result: result, Success: true}
}

// Fail 构造失败结果
func Fail(callID, toolName, errMsg string) Output {
	return Output{CallID: callID, ToolName: toolName, Error: errMsg, Success: false}
}

// Failf 构造格式化失败结果
func Failf(callID, toolName, format string, args ...interface{}) Output {
	return Fail(callID, toolName, fmt.Sprintf(format, args...))
}

// Knobs 清单派生的执行旋钮，随每次调用下发
type Knobs struct {
	SqliteAllow      []string
	FSAllowRead      []string
	FSAllowWrite     []string
	VectorAllow      []string
	VectorAllowWrite []string
	MaxRows          int
	MaxBytes         int
	VectorBackend    string
	DefaultTopK      int
}

// Context 每次工具调用携带的运行时上下文
type Context struct {
	RequestID  string
	AppName    string
	PolicyMode string
	Knobs      Knobs
}

// Tool 工具接口 — 运行时暴露给模型的命名副作用操作。
// Run 必须捕获内部失败并返回 Success=false，绝不穿透注册表边界。
type Tool interface {
	// Definition 返回函数调用 schema
	Definition() Definition
	// Run 执行工具（策略检查之后由运行时调用）
	Run(ctx context.Context, tctx *Context, args map[string]interface{}) Output
}

// Registry 内存工具注册表。启动时构建一次，之后只读。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册工具；重名覆盖
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Get 获取工具
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

// Has 检查工具是否存在
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// Names 返回排序后的工具名列表
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions 按名称序返回全部定义
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// OpenAIDefinitions 以 OpenAI 函数调用格式导出全部工具
func (r *Registry) OpenAIDefinitions() []map[string]interface{} {
	defs := r.Definitions()
	out := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return out
}
