package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/domekit/domekit/internal/domain/entity"
)

// Batch aggregators over the audit log. Stateless: every call re-reads the
// entries it is given and computes from scratch.

// Bucket 固定宽度的吞吐桶
type Bucket struct {
	Time  string `json:"time"`
	Count int    `json:"count"`
}

// Latency 配对 request.start / request.end 得到的延迟分位数
type Latency struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ToolCount 单个工具的调用计数
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// ErrorRates 错误与拦截比率
type ErrorRates struct {
	TotalRequests int     `json:"total_requests"`
	PolicyBlocks  int     `json:"policy_blocks"`
	ToolCalls     int     `json:"tool_calls"`
	BlockRate     float64 `json:"block_rate"`
}

// Summary 总体统计
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	FirstEntry   *string        `json:"first_entry"`
	LastEntry    *string        `json:"last_entry"`
	EventCounts  map[string]int `json:"event_counts,omitempty"`
}

// Report 聚合指标报告
type Report struct {
	Throughput []Bucket   `json:"throughput"`
	Latency    Latency    `json:"latency"`
	ToolUsage  []ToolCount `json:"tool_usage"`
	ErrorRates ErrorRates `json:"error_rates"`
	Summary    Summary    `json:"summary"`
}

// Compute 从审计记录计算聚合指标
func Compute(entries []entity.AuditEntry, since *time.Time, windowSeconds int) Report {
	if since != nil {
		filtered := make([]entity.AuditEntry, 0, len(entries))
		for _, e := range entries {
			if !e.TS.Before(*since) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return Report{
		Throughput: throughputBuckets(entries, windowSeconds),
		Latency:    latencyPercentiles(entries),
		ToolUsage:  toolUsage(entries),
		ErrorRates: errorRates(entries),
		Summary:    summarize(entries),
	}
}

// throughputBuckets 按固定窗口宽度对 request.start 分桶；
// 首桶从最早的 start 开始
func throughputBuckets(entries []entity.AuditEntry, windowSeconds int) []Bucket {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	var starts []time.Time
	for _, e := range entries {
		if e.Event == entity.EventRequestStart {
			starts = append(starts, e.TS)
		}
	}
	if len(starts) == 0 {
		return []Bucket{}
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	window := time.Duration(windowSeconds) * time.Second
	bucketStart := starts[0]
	lastTS := starts[len(starts)-1]

	var buckets []Bucket
	for !bucketStart.After(lastTS) {
		bucketEnd := bucketStart.Add(window)
		count := 0
		for _, ts := range starts {
			if !ts.Before(bucketStart) && ts.Before(bucketEnd) {
				count++
			}
		}
		buckets = append(buckets, Bucket{
			Time:  bucketStart.Format(time.RFC3339Nano),
			Count: count,
		})
		bucketStart = bucketEnd
	}
	return buckets
}

// latencyPercentiles 按 request_id 配对 start/end；
// 分位数取 durations[min(floor(n*p), n-1)]
func latencyPercentiles(entries []entity.AuditEntry) Latency {
	starts := make(map[string]time.Time)
	var durations []float64

	for _, e := range entries {
		switch e.Event {
		case entity.EventRequestStart:
			starts[e.RequestID] = e.TS
		case entity.EventRequestEnd:
			if start, ok := starts[e.RequestID]; ok {
				durations = append(durations, e.TS.Sub(start).Seconds())
			}
		}
	}

	if len(durations) == 0 {
		return Latency{}
	}

	sort.Float64s(durations)
	n := len(durations)
	idx := func(p float64) int {
		i := int(math.Floor(float64(n) * p))
		if i > n-1 {
			i = n - 1
		}
		return i
	}

	return Latency{
		P50:   round3(durations[idx(0.50)]),
		P95:   round3(durations[idx(0.95)]),
		P99:   round3(durations[idx(0.99)]),
		Count: n,
	}
}

// toolUsage 按工具名统计 tool.call，降序
func toolUsage(entries []entity.AuditEntry) []ToolCount {
	counts := map[string]int{}
	for _, e := range entries {
		if e.Event != entity.EventToolCall {
			continue
		}
		tool, ok := e.Detail["tool"].(string)
		if !ok || tool == "" {
			tool = "unknown"
		}
		counts[tool]++
	}

	out := make([]ToolCount, 0, len(counts))
	for tool, count := range counts {
		out = append(out, ToolCount{Tool: tool, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

func errorRates(entries []entity.AuditEntry) ErrorRates {
	var rates ErrorRates
	for _, e := range entries {
		switch e.Event {
		case entity.EventRequestStart:
			rates.TotalRequests++
		case entity.EventPolicyBlock:
			rates.PolicyBlocks++
		case entity.EventToolCall:
			rates.ToolCalls++
		}
	}

	denom := rates.TotalRequests
	if denom < 1 {
		denom = 1
	}
	rates.BlockRate = round4(float64(rates.PolicyBlocks) / float64(denom))
	return rates
}

func summarize(entries []entity.AuditEntry) Summary {
	if len(entries) == 0 {
		return Summary{TotalEntries: 0}
	}

	first := entries[0].TS
	last := entries[0].TS
	eventCounts := map[string]int{}
	for _, e := range entries {
		if e.TS.Before(first) {
			first = e.TS
		}
		if e.TS.After(last) {
			last = e.TS
		}
		eventCounts[string(e.Event)]++
	}

	firstStr := first.Format(time.RFC3339Nano)
	lastStr := last.Format(time.RFC3339Nano)
	return Summary{
		TotalEntries: len(entries),
		FirstEntry:   &firstStr,
		LastEntry:    &lastStr,
		EventCounts:  eventCounts,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
