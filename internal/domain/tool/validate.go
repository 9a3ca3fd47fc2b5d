package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{} // 工具 schema 启动后不变，按名缓存
)

// ValidateArgs 在分发前按工具声明的 JSON Schema 校验参数
func ValidateArgs(def Definition, args map[string]interface{}) error {
	if len(def.Parameters) == 0 {
		return nil
	}

	schema, err := compiledSchema(def)
	if err != nil {
		return err
	}

	// 经 JSON 往返规范化实例类型（int → float64 等）
	instanceRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(instanceRaw, &instance); err != nil {
		return fmt.Errorf("normalize arguments: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("arguments for %s: %w", def.Name, err)
	}
	return nil
}

func compiledSchema(def Definition) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[def.Name]; ok {
		return s, nil
	}

	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", def.Name, err)
	}

	schema, err := jsonschema.CompileString(def.Name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}

	schemaCache[def.Name] = schema
	return schema, nil
}
