package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	domaintool "github.com/domekit/domekit/internal/domain/tool"
)

// WriteFileTool 写入允许前缀之内的文件。
// 超出 max_bytes 的内容拒绝且目标文件不变；按需创建父目录；
// 整体原子写入（临时文件 + rename）。
type WriteFileTool struct {
	logger *zap.Logger
}

// NewWriteFileTool 创建 write_file 工具
func NewWriteFileTool(logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{logger: logger}
}

var _ domaintool.Tool = (*WriteFileTool)(nil)

// Definition 返回函数调用 schema
func (t *WriteFileTool) Definition() domaintool.Definition {
	return domaintool.Definition{
		Name:        "write_file",
		Description: "Write content to a file on the local filesystem.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative file path to write.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Content to write to the file.",
				},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

// Run 写入文件
func (t *WriteFileTool) Run(ctx context.Context, tctx *domaintool.Context, args map[string]interface{}) domaintool.Output {
	path := stringArg(args, "path")
	callID := tctx.RequestID

	content, hasContent := args["content"].(string)
	if path == "" || !hasContent {
		return domaintool.Fail(callID, "write_file", "path and content are required")
	}

	resolved := canonicalPath(path)

	// 路径穿越防护
	if !underAnyPrefix(resolved, tctx.Knobs.FSAllowWrite) {
		return domaintool.Failf(callID, "write_file", "Path not allowed: %s", path)
	}

	maxBytes := tctx.Knobs.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if len(content) > maxBytes {
		return domaintool.Failf(callID, "write_file",
			"Content exceeds max_bytes limit (%d)", maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return domaintool.Fail(callID, "write_file", err.Error())
	}

	if err := atomicWrite(resolved, []byte(content)); err != nil {
		return domaintool.Fail(callID, "write_file", err.Error())
	}

	t.logger.Debug("write_file executed",
		zap.String("path", resolved),
		zap.Int("bytes", len(content)),
	)

	return domaintool.Ok(callID, "write_file", map[string]interface{}{
		"status":        "ok",
		"bytes_written": len(content),
	})
}

// atomicWrite 同目录临时文件写入后 rename，失败不留半成品
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".domekit-write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
