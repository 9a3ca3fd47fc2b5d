package metrics

import (
	"testing"
	"time"

	"github.com/domekit/domekit/internal/domain/entity"
)

// === Path traversal ===

func TestDetectPathTraversal(t *testing.T) {
	base := time.Now().UTC()
	entries := []entity.AuditEntry{
		entryAt("r1", entity.EventToolCall, base).
			WithDetail("tool", "read_file").
			WithDetail("arguments", map[string]interface{}{"path": "../../etc/passwd"}),
		entryAt("r2", entity.EventToolCall, base).
			WithDetail("arguments", map[string]interface{}{"path": "/tmp/safe.txt"}),
		// tool.call / policy.block 之外的事件不扫描
		entryAt("r3", entity.EventRequestStart, base).
			WithDetail("note", "../ in an unrelated event"),
	}

	alerts := DetectAlerts(entries, nil, 50)

	var traversal []Alert
	for _, a := range alerts {
		if a.Type == "path_traversal" {
			traversal = append(traversal, a)
		}
	}
	if len(traversal) != 1 {
		t.Fatalf("traversal alerts = %v", traversal)
	}
	if traversal[0].Severity != "high" || traversal[0].RequestID != "r1" {
		t.Errorf("alert = %+v", traversal[0])
	}
}

func TestDetectPathTraversal_Backslash(t *testing.T) {
	entries := []entity.AuditEntry{
		entryAt("r", entity.EventPolicyBlock, time.Now().UTC()).
			WithDetail("arguments", map[string]interface{}{"path": `..\..\windows`}),
	}
	alerts := DetectAlerts(entries, nil, 10)
	if len(alerts) == 0 || alerts[0].Type != "path_traversal" {
		t.Errorf("alerts = %v", alerts)
	}
}

// === SQL injection ===

func TestDetectSQLInjection(t *testing.T) {
	base := time.Now().UTC()
	injections := []string{
		"SELECT * FROM t; DROP TABLE users",
		"SELECT 1 UNION SELECT password FROM users",
		"SELECT * FROM t WHERE x = '' OR 1=1",
		"delete from audit",
	}

	for _, q := range injections {
		entries := []entity.AuditEntry{
			entryAt("r", entity.EventToolCall, base).
				WithDetail("tool", "sql_query").
				WithDetail("arguments", map[string]interface{}{"query": q}),
		}
		alerts := DetectAlerts(entries, nil, 10)
		found := false
		for _, a := range alerts {
			if a.Type == "sql_injection" && a.Severity == "critical" {
				found = true
			}
		}
		if !found {
			t.Errorf("no injection alert for %q: %v", q, alerts)
		}
	}

	// 无害查询不告警
	benign := []entity.AuditEntry{
		entryAt("r", entity.EventToolCall, base).
			WithDetail("arguments", map[string]interface{}{"query": "SELECT COUNT(*) FROM activities"}),
	}
	for _, a := range DetectAlerts(benign, nil, 10) {
		if a.Type == "sql_injection" {
			t.Errorf("false positive: %+v", a)
		}
	}
}

// === Burst denial ===

func TestDetectBurstDenial(t *testing.T) {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	var entries []entity.AuditEntry
	for i := 0; i < 5; i++ {
		entries = append(entries,
			entryAt("r", entity.EventPolicyBlock, base.Add(time.Duration(i*10)*time.Second)).
				WithDetail("tool", "sql_query"))
	}

	alerts := detectBurstDenial(entries)
	if len(alerts) != 1 {
		t.Fatalf("burst alerts = %v (report once)", alerts)
	}
	if alerts[0].Severity != "medium" {
		t.Errorf("severity = %q", alerts[0].Severity)
	}
	if alerts[0].Detail["count"] != 5 {
		t.Errorf("detail = %v", alerts[0].Detail)
	}
}

func TestDetectBurstDenial_SpreadOutNoAlert(t *testing.T) {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	var entries []entity.AuditEntry
	for i := 0; i < 5; i++ {
		entries = append(entries,
			entryAt("r", entity.EventPolicyBlock, base.Add(time.Duration(i)*2*time.Minute)).
				WithDetail("tool", "x"))
	}

	if alerts := detectBurstDenial(entries); len(alerts) != 0 {
		t.Errorf("spread-out blocks must not alert: %v", alerts)
	}
}

// === Repeated denial ===

func TestDetectRepeatedDenial(t *testing.T) {
	base := time.Now().UTC()
	var entries []entity.AuditEntry
	for i := 0; i < 3; i++ {
		entries = append(entries,
			entryAt("r", entity.EventPolicyBlock, base).WithDetail("tool", "sql_query"))
	}
	entries = append(entries,
		entryAt("r", entity.EventPolicyBlock, base).WithDetail("tool", "read_file"))

	alerts := detectRepeatedDenial(entries)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %v", alerts)
	}
	if alerts[0].Detail["tool"] != "sql_query" || alerts[0].Detail["count"] != 3 {
		t.Errorf("alert detail = %v", alerts[0].Detail)
	}
}

// === Ordering and limit ===

func TestDetectAlerts_NewestFirstAndLimit(t *testing.T) {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	entries := []entity.AuditEntry{
		entryAt("old", entity.EventToolCall, base).
			WithDetail("arguments", map[string]interface{}{"path": "../a"}),
		entryAt("new", entity.EventToolCall, base.Add(time.Hour)).
			WithDetail("arguments", map[string]interface{}{"path": "../b"}),
	}

	alerts := DetectAlerts(entries, nil, 50)
	if len(alerts) != 2 {
		t.Fatalf("alerts = %v", alerts)
	}
	if alerts[0].RequestID != "new" {
		t.Errorf("newest first violated: %v", alerts)
	}

	limited := DetectAlerts(entries, nil, 1)
	if len(limited) != 1 || limited[0].RequestID != "new" {
		t.Errorf("limit: %v", limited)
	}
}
