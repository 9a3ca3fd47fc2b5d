package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
)

// Store 追加式 JSONL 审计存储。
// 进程内单写者（Append 串行化）；读者可与写者并发，
// 永远不会观察到半行。文件只追加，从不重写。
type Store struct {
	path   string
	mu     sync.Mutex // 串行化 Append
	file   *os.File
	logger *zap.Logger
}

// NewStore 创建审计存储；按需创建父目录
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Store{
		path:   path,
		file:   f,
		logger: logger.With(zap.String("component", "audit-store")),
	}, nil
}

// Path 审计日志文件路径
func (s *Store) Path() string {
	return s.path
}

// Append 追加一条记录。整行单次写入；返回前对读者可见。
func (s *Store) Append(entry entity.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AppendBestEffort 尽力追加；失败只记日志，不向调用方传播。
// 用于请求收尾阶段，避免审计故障泄漏成不同的响应结果。
func (s *Store) AppendBestEffort(entry entity.AuditEntry) {
	if err := s.Append(entry); err != nil {
		s.logger.Error("Audit append failed",
			zap.String("event", string(entry.Event)),
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
		fmt.Fprintf(os.Stderr, "domekit: audit append failed: %v\n", err)
	}
}

// Close 关闭底层文件
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ByRequest 返回某个 request_id 的全部记录，文件顺序
func (s *Store) ByRequest(requestID string) ([]entity.AuditEntry, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []entity.AuditEntry
	for _, e := range all {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByEvent 返回某事件类型的尾部 limit 条记录
func (s *Store) ByEvent(event entity.AuditEvent, limit int) ([]entity.AuditEntry, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var matches []entity.AuditEntry
	for _, e := range all {
		if e.Event == event {
			matches = append(matches, e)
		}
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches, nil
}

// Tail 返回尾部 n 条记录，不分事件类型
func (s *Store) Tail(n int) ([]entity.AuditEntry, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// QueryFilter 过滤分页查询条件
type QueryFilter struct {
	Event     entity.AuditEvent
	Since     *time.Time
	Until     *time.Time
	RequestID string
	Limit     int
	Offset    int
}

// Query 过滤 + 最新在前 + 分页；total 为分页前的匹配总数
func (s *Store) Query(f QueryFilter) ([]entity.AuditEntry, int, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, 0, err
	}

	filtered := make([]entity.AuditEntry, 0, len(all))
	for _, e := range all {
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		if f.RequestID != "" && e.RequestID != f.RequestID {
			continue
		}
		if f.Since != nil && e.TS.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.TS.After(*f.Until) {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)

	// 最新在前（稳定排序：同一时刻的记录保持文件中的先后顺序）
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TS.After(filtered[j].TS)
	})

	if f.Offset >= len(filtered) {
		return []entity.AuditEntry{}, total, nil
	}
	filtered = filtered[f.Offset:]
	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}
	return filtered, total, nil
}

// Stat 返回日志文件字节大小与条目数（health 端点用）
func (s *Store) Stat() (sizeBytes int64, entries int) {
	if info, err := os.Stat(s.path); err == nil {
		sizeBytes = info.Size()
	}
	if all, err := s.readAll(); err == nil {
		entries = len(all)
	}
	return sizeBytes, entries
}

// readAll 全量扫描。缺失文件视为空；畸形的末行视为不存在
// （崩溃写到一半的残留）；畸形的中间行对本次扫描是致命的。
func (s *Store) readAll() ([]entity.AuditEntry, error) {
	return ReadAll(s.path)
}

// ReadAll 从路径读取全部审计记录（无 Store 实例的只读辅助）
func ReadAll(path string) ([]entity.AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entries []entity.AuditEntry
	badLine := -1 // 最近一次解析失败的行号
	lineNo := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineNo++

		if badLine >= 0 {
			// 畸形行之后又出现了内容 → 畸形行在中间，扫描失败
			return nil, fmt.Errorf("malformed audit entry at line %d", badLine)
		}

		var entry entity.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			badLine = lineNo
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	// badLine 仍挂着且后面没有行 → 末行截断，静默跳过
	return entries, nil
}
