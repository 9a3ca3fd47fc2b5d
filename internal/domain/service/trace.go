package service

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewRequestID 生成时间有序的请求 id（UUIDv7）。对客户端不透明。
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var tableRefRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*|"[^"]+"|` + "`[^`]+`" + `|\[[^\]]+\])`)

// TablesFromQuery 从 SQL 文本的 FROM/JOIN 子句解析被查询的表名。
// 去重，保持首次出现顺序；子查询（FROM 后跟括号）不产生表名。
func TablesFromQuery(query string) []string {
	matches := tableRefRe.FindAllStringSubmatch(query, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var tables []string
	for _, m := range matches {
		name := strings.Trim(m[1], "\"`[]")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}
