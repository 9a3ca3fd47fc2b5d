package tool

import (
	"path/filepath"
	"strings"
)

// canonicalPath 规范化路径：绝对化、清理 ".."、尽力解析符号链接。
// 目标不存在时退回到清理后的绝对路径。
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// underAnyPrefix 规范化路径是否落在任一规范化前缀之下
func underAnyPrefix(resolved string, prefixes []string) bool {
	for _, prefix := range prefixes {
		p := canonicalPath(prefix)
		if resolved == p || strings.HasPrefix(resolved, withSeparator(p)) {
			return true
		}
	}
	return false
}

func withSeparator(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}
