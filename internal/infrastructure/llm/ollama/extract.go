package ollama

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/domekit/domekit/internal/domain/entity"
)

// Tool-call extraction from free-form text, for backends/models without
// native function calling. Precedence (spec'd by the adapter):
//  1. fenced ```json {"tool_call": {...}} ``` block
//  2. bare {"tool_call": {...}} object in text
//  3. text starting with '{' that parses (after the repair shim) as
//     {name, arguments|parameters}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareCallRe    = regexp.MustCompile(`(?s)\{"tool_call"\s*:\s*\{.*?\}\s*\}`)
	// 修复缺失的冒号: "parameters{ → "parameters":{
	missingColonRe = regexp.MustCompile(`"(parameters|arguments)(\{)`)
)

// extractToolCall 从文本中提取 tool_call JSON。
// 返回 (指令, 剩余文本指针)；未命中时返回 (nil, 原文指针)。
// 块之前的文本成为消息内容；为空则内容为 nil。
func extractToolCall(content string) (*entity.ToolCallInfo, *string) {
	if content == "" {
		return nil, &content
	}

	if loc := fencedBlockRe.FindStringSubmatchIndex(content); loc != nil {
		raw := content[loc[2]:loc[3]]
		if tc := parseWrappedCall(raw); tc != nil {
			return tc, residual(content, loc[0])
		}
	}

	if loc := bareCallRe.FindStringIndex(content); loc != nil {
		// 非贪婪匹配只用来定位起点；完整对象（含嵌套 arguments）交给 JSON 解码器截取
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(content[loc[0]:]))
		if err := dec.Decode(&raw); err == nil {
			if tc := parseWrappedCall(string(raw)); tc != nil {
				return tc, residual(content, loc[0])
			}
		}
	}

	return nil, &content
}

// parseWrappedCall 解析 {"tool_call": {"name":..., "arguments":...}}
func parseWrappedCall(raw string) *entity.ToolCallInfo {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	tc, ok := parsed["tool_call"].(map[string]interface{})
	if !ok {
		return nil
	}
	name, ok := tc["name"].(string)
	if !ok || name == "" {
		return nil
	}
	args, _ := tc["arguments"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	return &entity.ToolCallInfo{
		ID:        "call_0",
		Name:      name,
		Arguments: args,
	}
}

// extractBareDirective 处理以 '{' 开头的整段 JSON 回复：经两处已知畸形
// 修复后解析为含 name 与 arguments/parameters 的对象即视为工具指令。
// 修复是窄的兼容垫片，不是通用解析器。
func extractBareDirective(content string) *entity.ToolCallInfo {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	cleaned := repairModelJSON(trimmed)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil
	}
	name, ok := parsed["name"].(string)
	if !ok || name == "" {
		return nil
	}

	args, _ := parsed["arguments"].(map[string]interface{})
	if args == nil {
		args, _ = parsed["parameters"].(map[string]interface{})
	}
	if args == nil {
		return nil
	}

	return &entity.ToolCallInfo{
		ID:        "call_0",
		Name:      name,
		Arguments: args,
	}
}

// repairModelJSON 两处已知畸形的修复：
// 错位的转义引号 \": → ": ，以及 "parameters"/"arguments" 后缺失的冒号
func repairModelJSON(s string) string {
	s = strings.ReplaceAll(s, `\":{`, `":{`)
	s = strings.ReplaceAll(s, `\":`, `":`)
	s = missingColonRe.ReplaceAllString(s, `"$1":$2`)
	return s
}

// residual 块之前的文本；为空返回 nil
func residual(content string, start int) *string {
	remaining := strings.TrimSpace(content[:start])
	if remaining == "" {
		return nil
	}
	return &remaining
}
