package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 进程级指标收集器
type Metrics struct {
	// 请求计数
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	// 工具调用
	ToolCallsTotal uint64
	PolicyBlocks   uint64

	// 模型调用
	ModelCallsTotal uint64

	// 延迟 (纳秒)
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 错误
	ErrorsTotal uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器。计数全部用原子操作，热路径无锁。
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger: logger,
	}
}

// 计数方法
func (m *Monitor) IncRequestTotal()   { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess() { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()  { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncToolCall()       { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncPolicyBlock()    { atomic.AddUint64(&m.metrics.PolicyBlocks, 1) }
func (m *Monitor) IncModelCall()      { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }
func (m *Monitor) IncError()          { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

// RecordRequestLatency 记录一次请求延迟
func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// Uptime 进程运行时长
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.metrics.StartTime)
}

// GetStats 获取当前统计快照
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds":     m.Uptime().Seconds(),
		"requests_total":     atomic.LoadUint64(&m.metrics.RequestsTotal),
		"requests_success":   atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":    atomic.LoadUint64(&m.metrics.RequestsFailed),
		"tool_calls_total":   atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		"policy_blocks":      atomic.LoadUint64(&m.metrics.PolicyBlocks),
		"model_calls_total":  atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		"errors_total":       atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":     avgLatency,
		"memory_alloc_bytes": memStats.Alloc,
		"goroutines":         runtime.NumGoroutine(),
	}
}
