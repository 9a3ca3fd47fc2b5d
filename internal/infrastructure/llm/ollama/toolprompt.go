package ollama

import (
	"fmt"
	"strings"
)

// buildToolPrompt 生成描述可用工具的系统提示片段，
// 供不支持原生函数调用的模型族使用
func buildToolPrompt(tools []map[string]interface{}) string {
	lines := []string{
		"\n\n## Tool Calling",
		"You have access to the following tools. To call a tool, respond with a JSON block:",
		"```json\n{\"tool_call\": {\"name\": \"tool_name\", \"arguments\": {\"arg\": \"value\"}}}\n```",
		"You may include explanation text before or after the JSON block.",
		"Available tools:\n",
	}

	for _, tool := range tools {
		fn, _ := tool["function"].(map[string]interface{})
		if fn == nil {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		lines = append(lines, fmt.Sprintf("- **%s**: %s", name, desc))

		params, _ := fn["parameters"].(map[string]interface{})
		if params == nil {
			continue
		}
		props, _ := params["properties"].(map[string]interface{})
		required := requiredSet(params)

		var paramLines []string
		for pname, pdef := range props {
			pm, _ := pdef.(map[string]interface{})
			ptype, _ := pm["type"].(string)
			if ptype == "" {
				ptype = "any"
			}
			pdesc, _ := pm["description"].(string)
			req := ""
			if required[pname] {
				req = " (required)"
			}
			paramLines = append(paramLines,
				fmt.Sprintf("    - %s: %s — %s%s", pname, ptype, pdesc, req))
		}
		if len(paramLines) > 0 {
			lines = append(lines, strings.Join(paramLines, "\n"))
		}
	}

	return strings.Join(lines, "\n")
}

func requiredSet(params map[string]interface{}) map[string]bool {
	out := map[string]bool{}
	raw, _ := params["required"].([]interface{})
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out[s] = true
		}
	}
	// schema 在进程内构造时 required 可能是 []string
	if rawStr, ok := params["required"].([]string); ok {
		for _, s := range rawStr {
			out[s] = true
		}
	}
	return out
}
