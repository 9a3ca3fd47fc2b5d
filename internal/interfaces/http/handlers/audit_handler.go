package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/infrastructure/audit"
)

// AuditHandler 审计查询与流端点
type AuditHandler struct {
	store        *audit.Store
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewAuditHandler 创建审计处理器
func NewAuditHandler(store *audit.Store, pollInterval time.Duration, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		store:        store,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Logs handles GET /v1/domekit/audit/logs
// 过滤分页查询；最新在前；total 为分页前匹配总数
func (h *AuditHandler) Logs(c *gin.Context) {
	filter := audit.QueryFilter{
		RequestID: c.Query("request_id"),
		Limit:     100,
	}

	if eventStr := c.Query("event"); eventStr != "" {
		event := entity.AuditEvent(eventStr)
		if !entity.KnownAuditEvents[event] {
			c.JSON(http.StatusBadRequest, errorBody(
				fmt.Sprintf("unknown event type %q", eventStr), "invalid_request_error"))
			return
		}
		filter.Event = event
	}

	var ok bool
	if filter.Since, ok = parseTimeParam(c, "since"); !ok {
		return
	}
	if filter.Until, ok = parseTimeParam(c, "until"); !ok {
		return
	}
	if filter.Limit, ok = parseIntParam(c, "limit", 100, 1, 1000); !ok {
		return
	}
	if filter.Offset, ok = parseIntParam(c, "offset", 0, 0, 1<<30); !ok {
		return
	}

	entries, total, err := h.store.Query(filter)
	if err != nil {
		h.logger.Error("Audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
	})
}

// ByRequest handles GET /v1/domekit/audit/:request_id
// 某请求的全部记录，文件顺序
func (h *AuditHandler) ByRequest(c *gin.Context) {
	requestID := c.Param("request_id")

	entries, err := h.store.ByRequest(requestID)
	if err != nil {
		h.logger.Error("Audit by-request query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "server_error"))
		return
	}
	if entries == nil {
		entries = []entity.AuditEntry{}
	}

	c.JSON(http.StatusOK, entries)
}

// Stream handles GET /v1/domekit/audit/stream
// SSE：每条新追加的记录一个 data: 帧
func (h *AuditHandler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	entryCh := h.store.StreamTail(ctx, h.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entryCh:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// ── 参数解析辅助 ──

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("invalid %s: %v", name, err), "invalid_request_error"))
		return nil, false
	}
	return &t, true
}

func parseIntParam(c *gin.Context, name string, fallback, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		c.JSON(http.StatusBadRequest, errorBody(
			fmt.Sprintf("%s must be an integer in [%d, %d]", name, min, max), "invalid_request_error"))
		return 0, false
	}
	return v, true
}
