package entity

import (
	"time"
)

// AuditEvent 审计事件类型
type AuditEvent string

const (
	EventRequestStart AuditEvent = "request.start"
	EventToolCall     AuditEvent = "tool.call"
	EventToolResult   AuditEvent = "tool.result"
	EventRequestEnd   AuditEvent = "request.end"
	EventPolicyBlock  AuditEvent = "policy.block"
)

// KnownAuditEvents 全部合法事件类型
var KnownAuditEvents = map[AuditEvent]bool{
	EventRequestStart: true,
	EventToolCall:     true,
	EventToolResult:   true,
	EventRequestEnd:   true,
	EventPolicyBlock:  true,
}

// AuditEntry 审计日志记录 — 运行时唯一的持久状态。
// 追加后不可变；一行一条 JSON。
type AuditEntry struct {
	TS         time.Time              `json:"ts"`
	RequestID  string                 `json:"request_id"`
	Event      AuditEvent             `json:"event"`
	App        string                 `json:"app"`
	Model      string                 `json:"model"`
	PolicyMode string                 `json:"policy_mode"`
	Detail     map[string]interface{} `json:"detail"`
}

// NewAuditEntry 创建审计记录（UTC 时间戳）
func NewAuditEntry(requestID string, event AuditEvent) AuditEntry {
	return AuditEntry{
		TS:         time.Now().UTC(),
		RequestID:  requestID,
		Event:      event,
		PolicyMode: "local_only",
		Detail:     map[string]interface{}{},
	}
}

// WithApp 设置应用标识
func (e AuditEntry) WithApp(app, model, policyMode string) AuditEntry {
	e.App = app
	e.Model = model
	if policyMode != "" {
		e.PolicyMode = policyMode
	}
	return e
}

// WithDetail 设置单个 detail 字段
func (e AuditEntry) WithDetail(key string, value interface{}) AuditEntry {
	detail := make(map[string]interface{}, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}
