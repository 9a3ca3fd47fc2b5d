package tool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
)

const (
	defaultMaxRows = 100
	sqlTimeout     = 30 * time.Second
)

// SqlQueryTool 只读 SQLite 查询工具。
// 二次防护：路径规范化后必须与 sqlite.allow 中某条规范化条目相等；
// 数据库以只读 URI 模式打开，变更语句被驱动拒绝。
type SqlQueryTool struct {
	logger *zap.Logger
}

// NewSqlQueryTool 创建 sql_query 工具
func NewSqlQueryTool(logger *zap.Logger) *SqlQueryTool {
	return &SqlQueryTool{logger: logger}
}

var _ domaintool.Tool = (*SqlQueryTool)(nil)

// Definition 返回函数调用 schema
func (t *SqlQueryTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "sql_query",
		Description: "Run a read-only SQL query against a local SQLite database.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"db_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the SQLite database file.",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "SQL query to execute (read-only).",
				},
			},
			"required":             []string{"db_path", "query"},
			"additionalProperties": false,
		},
	}
}

// Run 执行查询
func (t *SqlQueryTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	dbPath := stringArg(args, "db_path")
	query := stringArg(args, "query")
	callID := tctx.RequestID

	if dbPath == "" || query == "" {
		return domaintool.Fail(callID, "sql_query", "db_path and query are required")
	}

	resolved := canonicalPath(dbPath)
	allowed := false
	for _, a := range tctx.Knobs.SqliteAllow {
		if resolved == canonicalPath(a) {
			allowed = true
			break
		}
	}
	if !allowed {
		return domaintool.Failf(callID, "sql_query", "Database path not allowed: %s", dbPath)
	}

	maxRows := tctx.Knobs.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	ctx, cancel := context.WithTimeout(ctx, sqlTimeout)
	defer cancel()

	// 一次调用一个连接，只读 URI 打开，tool.result 写入前关闭
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", resolved))
	if err != nil {
		return domaintool.Fail(callID, "sql_query", err.Error())
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return domaintool.Fail(callID, "sql_query", err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return domaintool.Fail(callID, "sql_query", err.Error())
	}

	// 读到 max_rows+1 行以探测截断
	var collected [][]interface{}
	for rows.Next() {
		if len(collected) > maxRows {
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return domaintool.Fail(callID, "sql_query", err.Error())
		}
		row := make([]interface{}, len(columns))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		collected = append(collected, row)
	}
	if err := rows.Err(); err != nil {
		return domaintool.Fail(callID, "sql_query", err.Error())
	}

	truncated := len(collected) > maxRows
	if truncated {
		collected = collected[:maxRows]
	}
	if collected == nil {
		collected = [][]interface{}{}
	}

	t.logger.Debug("sql_query executed",
		zap.String("db", resolved),
		zap.Int("rows", len(collected)),
		zap.Bool("truncated", truncated),
	)

	return domaintool.Ok(callID, "sql_query", map[string]interface{}{
		"columns":   columns,
		"rows":      collected,
		"truncated": truncated,
	})
}
