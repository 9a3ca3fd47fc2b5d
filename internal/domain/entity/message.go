package entity

import (
	"encoding/json"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallInfo 工具调用指令 — 模型发出的结构化调用意图。
// Arguments 是权威的已解析形式；所有传输序列化都由它派生。
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// wireToolCall OpenAI 线格式的工具调用
type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// MarshalJSON 序列化为 OpenAI 线格式（arguments 编码为 JSON 字符串）
func (tc ToolCallInfo) MarshalJSON() ([]byte, error) {
	args := tc.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireToolCall{
		ID:   tc.ID,
		Type: "function",
		Function: wireToolCallFunc{
			Name:      tc.Name,
			Arguments: string(raw),
		},
	})
}

// UnmarshalJSON 反序列化线格式；arguments 同时接受 JSON 字符串和对象
func (tc *ToolCallInfo) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID       string `json:"id"`
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	tc.ID = wire.ID
	tc.Name = wire.Function.Name
	tc.Arguments = decodeArguments(wire.Function.Arguments)
	return nil
}

// decodeArguments 接受 "{"a":1}"（字符串）或 {"a":1}（对象）。
// 无法解码的参数退化为空对象 (MalformedDirective 语义)。
func decodeArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}

	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]interface{}{}
	}
	return args
}

// ParseArguments 从 JSON 字符串解析参数；无效 JSON 返回空对象
func ParseArguments(raw string) map[string]interface{} {
	return decodeArguments(json.RawMessage(raw))
}

// Message 规范消息 — 一次请求内的会话元素。
// Content 为 nil 表示无文本内容（区别于空串）。
type Message struct {
	Role       Role           `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // tool 角色回指的指令 id
}

// NewTextMessage 创建纯文本消息
func NewTextMessage(role Role, content string) Message {
	return Message{Role: role, Content: &content}
}

// NewToolResultMessage 创建工具结果消息（回指指令 id）
func NewToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: callID}
}

// Text 返回消息文本；nil content 返回空串
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasToolCalls 是否携带工具调用指令
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
