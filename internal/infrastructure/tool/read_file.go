package tool

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
)

const defaultMaxBytes = 1 << 20 // 1 MiB

// ReadFileTool 读取允许前缀之内的文件。
// 二次防护：规范化路径必须有 fs_allow_read 中的规范化前缀，
// 读取量以 max_bytes 封顶，无效字节宽松解码为替换字符。
type ReadFileTool struct {
	logger *zap.Logger
}

// NewReadFileTool 创建 read_file 工具
func NewReadFileTool(logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{logger: logger}
}

var _ domaintool.Tool = (*ReadFileTool)(nil)

// Definition 返回函数调用 schema
func (t *ReadFileTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "read_file",
		Description: "Read the contents of a file on the local filesystem.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative file path to read.",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

// Run 读取文件
func (t *ReadFileTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	path := stringArg(args, "path")
	callID := tctx.RequestID

	if path == "" {
		return domaintool.Fail(callID, "read_file", "path is required")
	}

	resolved := canonicalPath(path)

	// 路径穿越防护：规范化后必须落在允许前缀之下
	if !underAnyPrefix(resolved, tctx.Knobs.FSAllowRead) {
		return domaintool.Failf(callID, "read_file", "Path not allowed: %s", path)
	}

	maxBytes := tctx.Knobs.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	f, err := os.Open(resolved)
	if err != nil {
		return domaintool.Fail(callID, "read_file", err.Error())
	}
	defer f.Close()

	limited := io.LimitReader(f, int64(maxBytes))
	data, err := io.ReadAll(limited)
	if err != nil {
		return domaintool.Fail(callID, "read_file", err.Error())
	}

	// 宽松解码：无效字节变为 U+FFFD
	content := strings.ToValidUTF8(string(data), "�")

	t.logger.Debug("read_file executed",
		zap.String("path", resolved),
		zap.Int("bytes", len(data)),
	)

	return domaintool.Ok(callID, "read_file", content)
}
