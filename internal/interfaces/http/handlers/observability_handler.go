package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/infrastructure/audit"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/llm"
	"github.com/domekit/domekit/internal/infrastructure/metrics"
	"github.com/domekit/domekit/internal/infrastructure/monitoring"
)

// ObservabilityHandler health、审计聚合指标与安全告警端点
type ObservabilityHandler struct {
	store    *audit.Store
	manifest *config.Manifest
	adapter  llm.Adapter
	monitor  *monitoring.Monitor
	version  string
	logger   *zap.Logger
}

// NewObservabilityHandler 创建观测处理器
func NewObservabilityHandler(
	store *audit.Store,
	manifest *config.Manifest,
	adapter llm.Adapter,
	monitor *monitoring.Monitor,
	version string,
	logger *zap.Logger,
) *ObservabilityHandler {
	return &ObservabilityHandler{
		store:    store,
		manifest: manifest,
		adapter:  adapter,
		monitor:  monitor,
		version:  version,
		logger:   logger,
	}
}

// Health handles GET /v1/domekit/health
func (h *ObservabilityHandler) Health(c *gin.Context) {
	result := gin.H{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": h.monitor.Uptime().Seconds(),
	}

	result["manifest"] = gin.H{
		"app":           h.manifest.App.Name,
		"app_version":   h.manifest.App.Version,
		"policy_mode":   string(h.manifest.Runtime.PolicyMode),
		"allowed_tools": h.manifest.Policy.Tools.Allow,
		"model_backend": h.manifest.Models.Backend,
		"default_model": h.manifest.Models.Default,
	}

	sizeBytes, entries := h.store.Stat()
	result["audit_log_size_bytes"] = sizeBytes
	result["audit_log_entries"] = entries

	reachable, models := h.adapter.Reachability(c.Request.Context())
	if models == nil {
		models = []string{}
	}
	result["backend_reachability"] = gin.H{
		"reachable": reachable,
		"models":    models,
	}

	c.JSON(http.StatusOK, result)
}

// SecurityAlerts handles GET /v1/domekit/security/alerts
func (h *ObservabilityHandler) SecurityAlerts(c *gin.Context) {
	since, ok := parseTimeParam(c, "since")
	if !ok {
		return
	}
	limit, ok := parseIntParam(c, "limit", 50, 1, 500)
	if !ok {
		return
	}

	entries, err := audit.ReadAll(h.store.Path())
	if err != nil {
		h.logger.Error("Audit scan for alerts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	alerts := metrics.DetectAlerts(entries, since, limit)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// Metrics handles GET /v1/domekit/metrics
func (h *ObservabilityHandler) Metrics(c *gin.Context) {
	since, ok := parseTimeParam(c, "since")
	if !ok {
		return
	}
	window, ok := parseIntParam(c, "window", 60, 1, 3600)
	if !ok {
		return
	}

	entries, err := audit.ReadAll(h.store.Path())
	if err != nil {
		h.logger.Error("Audit scan for metrics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	c.JSON(http.StatusOK, metrics.Compute(entries, since, window))
}
