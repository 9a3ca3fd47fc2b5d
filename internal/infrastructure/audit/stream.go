package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/pkg/safego"
)

// StreamTail yields newly appended entries, each exactly once, in file order.
// It starts at the current end of file and polls for growth. Only whole
// newline-terminated lines are consumed; the byte offset is remembered
// across poll intervals so a partially written trailing line is picked up
// on a later poll once its newline lands.
//
// The returned channel is closed when ctx is cancelled.
func (s *Store) StreamTail(ctx context.Context, pollInterval time.Duration) <-chan entity.AuditEntry {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	ch := make(chan entity.AuditEntry, 16)

	// 从当前 EOF 开始
	var offset int64
	if info, err := os.Stat(s.path); err == nil {
		offset = info.Size()
	}

	safego.Go(s.logger, "audit-stream-poller", func() {
		defer close(ch)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			entries, newOffset, err := readNewLines(s.path, offset)
			if err != nil {
				s.logger.Warn("Audit stream poll failed", zap.Error(err))
				continue
			}
			offset = newOffset

			for _, e := range entries {
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	})

	return ch
}

// readNewLines 读取 offset 之后的完整行，返回新 offset。
// 未以换行结束的尾部字节留给下一次轮询。
func readNewLines(path string, offset int64) ([]entity.AuditEntry, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	if info.Size() <= offset {
		return nil, offset, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}

	// 只消费到最后一个换行为止
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil, offset, nil
	}
	complete := buf[:end+1]

	var entries []entity.AuditEntry
	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var entry entity.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// 流式读取跳过无法解析的行，不中断尾随
			continue
		}
		entries = append(entries, entry)
	}

	return entries, offset + int64(len(complete)), nil
}
