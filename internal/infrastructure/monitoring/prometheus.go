package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format
// metrics. This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"domekit_requests_total", "Total number of chat requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"domekit_requests_success_total", "Total successful chat requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"domekit_requests_failed_total", "Total failed chat requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"domekit_tool_calls_total", "Total tool calls executed", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"domekit_policy_blocks_total", "Total tool calls denied by policy", "counter", atomic.LoadUint64(&m.metrics.PolicyBlocks)},

			{"domekit_model_calls_total", "Total model backend calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},
			{"domekit_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			{"domekit_uptime_seconds", "Process uptime in seconds", "gauge", m.Uptime().Seconds()},
			{"domekit_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"domekit_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP domekit_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE domekit_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "domekit_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
