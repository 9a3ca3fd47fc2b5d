package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/domekit/domekit/internal/infrastructure/config"
)

// Verdict 策略裁决
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Decision 一次策略裁决及其归因
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Rule    string  `json:"rule"`
	Reason  string  `json:"reason"`
}

// Allowed 是否放行
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllow
}

// DataAccess 数据访问类别
type DataAccess string

const (
	AccessRead        DataAccess = "read"
	AccessWrite       DataAccess = "write"
	AccessVectorRead  DataAccess = "vector_read"
	AccessVectorWrite DataAccess = "vector_write"
)

// Engine 策略引擎 — LoadManifest 之后无状态，全部裁决是
// （清单, 输入）的纯函数。加载后不可变，无锁并发安全。
type Engine struct {
	manifest atomic.Pointer[config.Manifest]
}

// NewEngine 创建未加载清单的引擎（所有检查 deny, rule=no_manifest）
func NewEngine() *Engine {
	return &Engine{}
}

// LoadManifest 加载清单。进程生命周期内只调用一次。
func (e *Engine) LoadManifest(m *config.Manifest) {
	e.manifest.Store(m)
}

func deny(rule, reason string) Decision {
	return Decision{Verdict: VerdictDeny, Rule: rule, Reason: reason}
}

func allow(rule, reason string) Decision {
	return Decision{Verdict: VerdictAllow, Rule: rule, Reason: reason}
}

func noManifest() Decision {
	return deny("no_manifest", "No manifest loaded")
}

func developerMode(what string) Decision {
	return allow("developer_mode", fmt.Sprintf("Developer mode allows all %s", what))
}

// CheckTool 工具是否被允许调用
func (e *Engine) CheckTool(toolName string) Decision {
	m := e.manifest.Load()
	if m == nil {
		return noManifest()
	}

	if m.Runtime.PolicyMode == config.PolicyModeDeveloper {
		return developerMode("tools")
	}

	for _, name := range m.Policy.Tools.Allow {
		if name == toolName {
			return allow("tools.allow",
				fmt.Sprintf("Tool '%s' is in the allow list", toolName))
		}
	}

	return deny("tools.allow",
		fmt.Sprintf("Tool '%s' is not in the allow list", toolName))
}

// CheckData 数据路径（文件、SQLite 库、向量集合名）是否允许访问
func (e *Engine) CheckData(path string, access DataAccess) Decision {
	m := e.manifest.Load()
	if m == nil {
		return noManifest()
	}

	if m.Runtime.PolicyMode == config.PolicyModeDeveloper {
		return developerMode("data access")
	}

	data := m.Policy.Data

	switch access {
	case AccessRead:
		// SQLite 路径精确匹配优先，其次文件系统读 glob
		for _, allowed := range data.Sqlite.Allow {
			if path == allowed {
				return allow("data.sqlite.allow",
					fmt.Sprintf("SQLite path '%s' is allowed", path))
			}
		}
		for _, pattern := range data.Filesystem.AllowRead {
			if MatchGlob(pattern, path) {
				return allow("data.filesystem.allow_read",
					fmt.Sprintf("Path '%s' matches read pattern '%s'", path, pattern))
			}
		}
		return deny("data.read",
			fmt.Sprintf("Path '%s' is not in any read allow list", path))

	case AccessWrite:
		for _, pattern := range data.Filesystem.AllowWrite {
			if MatchGlob(pattern, path) {
				return allow("data.filesystem.allow_write",
					fmt.Sprintf("Path '%s' matches write pattern '%s'", path, pattern))
			}
		}
		return deny("data.write",
			fmt.Sprintf("Path '%s' is not in the write allow list", path))

	case AccessVectorRead:
		for _, pattern := range data.Vector.Allow {
			if MatchGlob(pattern, path) {
				return allow("data.vector.allow",
					fmt.Sprintf("Collection '%s' matches vector read pattern '%s'", path, pattern))
			}
		}
		return deny("data.vector_read",
			fmt.Sprintf("Collection '%s' is not in the vector allow list", path))

	case AccessVectorWrite:
		for _, pattern := range data.Vector.AllowWrite {
			if MatchGlob(pattern, path) {
				return allow("data.vector.allow_write",
					fmt.Sprintf("Collection '%s' matches vector write pattern '%s'", path, pattern))
			}
		}
		return deny("data.vector_write",
			fmt.Sprintf("Collection '%s' is not in the vector write allow list", path))
	}

	return deny("data.unknown_access",
		fmt.Sprintf("Unknown access type '%s'", access))
}

// CheckNetwork 出站主机是否允许
func (e *Engine) CheckNetwork(host string) Decision {
	m := e.manifest.Load()
	if m == nil {
		return noManifest()
	}

	if m.Runtime.PolicyMode == config.PolicyModeDeveloper {
		return developerMode("network access")
	}

	network := m.Policy.Network

	if network.Outbound == "allow" {
		return allow("network.outbound", "Outbound network is globally allowed")
	}

	for _, domain := range network.AllowDomains {
		if host == domain {
			return allow("network.allow_domains",
				fmt.Sprintf("Host '%s' is in allow_domains", host))
		}
	}

	return deny("network.outbound",
		fmt.Sprintf("Outbound denied; host '%s' is not in allow_domains", host))
}

// PolicyMode 当前策略模式（无清单时为 local_only）
func (e *Engine) PolicyMode() config.PolicyMode {
	m := e.manifest.Load()
	if m == nil {
		return config.PolicyModeLocalOnly
	}
	return m.Runtime.PolicyMode
}
