package tool

// 参数提取辅助 — 模型参数经 JSON 解码，数值一律是 float64

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func mapArg(args map[string]interface{}, key string) map[string]interface{} {
	v, _ := args[key].(map[string]interface{})
	return v
}

func sliceArg(args map[string]interface{}, key string) []interface{} {
	v, _ := args[key].([]interface{})
	return v
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw := sliceArg(args, key)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func floatSliceArg(args map[string]interface{}, key string) []float32 {
	raw := sliceArg(args, key)
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
