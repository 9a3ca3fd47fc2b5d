package metrics

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/domekit/domekit/internal/domain/entity"
)

// Heuristic security detectors over the audit log: path traversal probes,
// SQL injection patterns, burst denial, and repeated denial clustering.

const (
	burstWindowSeconds = 60
	burstThreshold     = 5
	repeatThreshold    = 3
)

var (
	pathTraversalRe = regexp.MustCompile(`\.\./|\.\.\\`)
	sqlInjectionRe  = regexp.MustCompile(`(?i)\b(DROP\s+TABLE|DELETE\s+FROM|UNION\s+SELECT|INSERT\s+INTO\s.*SELECT|;\s*--|OR\s+1\s*=\s*1|'\s*OR\s+')`)
)

// Alert 单条安全告警
type Alert struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	TS        string                 `json:"ts"`
	RequestID string                 `json:"request_id"`
	Event     string                 `json:"event"`
	Detail    map[string]interface{} `json:"detail"`
	Message   string                 `json:"message"`
}

// DetectAlerts 运行全部启发式检测器，按时间新到旧排序并截断到 limit
func DetectAlerts(entries []entity.AuditEntry, since *time.Time, limit int) []Alert {
	if since != nil {
		filtered := make([]entity.AuditEntry, 0, len(entries))
		for _, e := range entries {
			if !e.TS.Before(*since) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	var alerts []Alert
	alerts = append(alerts, detectPathTraversal(entries)...)
	alerts = append(alerts, detectSQLInjection(entries)...)
	alerts = append(alerts, detectBurstDenial(entries)...)
	alerts = append(alerts, detectRepeatedDenial(entries)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].TS > alerts[j].TS
	})

	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts
}

// detectPathTraversal detail 的字符串形态中出现 ../ 或 ..\
func detectPathTraversal(entries []entity.AuditEntry) []Alert {
	var alerts []Alert
	for _, e := range entries {
		if e.Event != entity.EventToolCall && e.Event != entity.EventPolicyBlock {
			continue
		}
		detailStr := detailString(e.Detail)
		if pathTraversalRe.MatchString(detailStr) {
			alerts = append(alerts, Alert{
				Type:      "path_traversal",
				Severity:  "high",
				TS:        e.TS.Format(time.RFC3339Nano),
				RequestID: e.RequestID,
				Event:     string(e.Event),
				Detail:    e.Detail,
				Message:   "Path traversal pattern detected in tool arguments",
			})
		}
	}
	return alerts
}

// detectSQLInjection arguments.query 命中注入模式
func detectSQLInjection(entries []entity.AuditEntry) []Alert {
	var alerts []Alert
	for _, e := range entries {
		if e.Event != entity.EventToolCall && e.Event != entity.EventPolicyBlock {
			continue
		}
		args, _ := e.Detail["arguments"].(map[string]interface{})
		query, _ := args["query"].(string)
		if query == "" || !sqlInjectionRe.MatchString(query) {
			continue
		}
		preview := query
		if len(preview) > 120 {
			preview = preview[:120]
		}
		alerts = append(alerts, Alert{
			Type:      "sql_injection",
			Severity:  "critical",
			TS:        e.TS.Format(time.RFC3339Nano),
			RequestID: e.RequestID,
			Event:     string(e.Event),
			Detail:    e.Detail,
			Message:   fmt.Sprintf("SQL injection pattern detected: %s", preview),
		})
	}
	return alerts
}

// detectBurstDenial 滑动 60 秒窗口内 ≥5 条 policy.block；只报第一个窗口
func detectBurstDenial(entries []entity.AuditEntry) []Alert {
	var blocks []entity.AuditEntry
	for _, e := range entries {
		if e.Event == entity.EventPolicyBlock {
			blocks = append(blocks, e)
		}
	}
	if len(blocks) < burstThreshold {
		return nil
	}

	window := burstWindowSeconds * time.Second
	for i := range blocks {
		windowEnd := blocks[i].TS.Add(window)
		count := 0
		for _, b := range blocks[i:] {
			if !b.TS.After(windowEnd) {
				count++
			}
		}
		if count >= burstThreshold {
			return []Alert{{
				Type:      "burst_denial",
				Severity:  "medium",
				TS:        blocks[i].TS.Format(time.RFC3339Nano),
				RequestID: blocks[i].RequestID,
				Event:     string(entity.EventPolicyBlock),
				Detail: map[string]interface{}{
					"count":          count,
					"window_seconds": burstWindowSeconds,
				},
				Message: fmt.Sprintf("%d policy blocks within %ds window", count, burstWindowSeconds),
			}}
		}
	}
	return nil
}

// detectRepeatedDenial 单个工具名在扫描范围内 ≥3 次 policy.block
func detectRepeatedDenial(entries []entity.AuditEntry) []Alert {
	var blocks []entity.AuditEntry
	toolCounts := map[string]int{}
	var toolOrder []string

	for _, e := range entries {
		if e.Event != entity.EventPolicyBlock {
			continue
		}
		blocks = append(blocks, e)
		tool, _ := e.Detail["tool"].(string)
		if tool == "" {
			tool = "unknown"
		}
		if toolCounts[tool] == 0 {
			toolOrder = append(toolOrder, tool)
		}
		toolCounts[tool]++
	}

	var alerts []Alert
	for _, tool := range toolOrder {
		count := toolCounts[tool]
		if count < repeatThreshold {
			continue
		}
		ts := time.Now().UTC()
		if len(blocks) > 0 {
			ts = blocks[len(blocks)-1].TS
		}
		alerts = append(alerts, Alert{
			Type:      "repeated_denial",
			Severity:  "medium",
			TS:        ts.Format(time.RFC3339Nano),
			RequestID: "",
			Event:     string(entity.EventPolicyBlock),
			Detail: map[string]interface{}{
				"tool":  tool,
				"count": count,
			},
			Message: fmt.Sprintf("Tool '%s' blocked %d times — possible probing", tool, count),
		})
	}
	return alerts
}

// detailString detail 的序列化形态，供模式匹配
func detailString(detail map[string]interface{}) string {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Sprintf("%v", detail)
	}
	return string(raw)
}
