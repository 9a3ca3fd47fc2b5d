package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/domain/entity"
	"github.com/domekit/domekit/internal/domain/service"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/monitoring"
	apperrors "github.com/domekit/domekit/pkg/errors"
)

// ChatHandler OpenAI 兼容的聊天端点
type ChatHandler struct {
	router   *service.ToolRouter
	manifest *config.Manifest
	monitor  *monitoring.Monitor
	logger   *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(router *service.ToolRouter, manifest *config.Manifest, monitor *monitoring.Monitor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		router:   router,
		manifest: manifest,
		monitor:  monitor,
		logger:   logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req entity.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, errorBody("messages array must not be empty", "invalid_request_error"))
		return
	}

	h.monitor.IncRequestTotal()
	start := time.Now()

	// 客户端断开会取消该 context，进而放弃编排任务
	response, err := h.router.Run(c.Request.Context(), &req, h.manifest)

	h.monitor.RecordRequestLatency(time.Since(start))

	if err != nil {
		h.monitor.IncRequestFailed()
		if c.Request.Context().Err() != nil {
			// 客户端已断开；无人读响应
			c.Abort()
			return
		}
		h.logger.Error("Chat completion failed", zap.Error(err))
		status := http.StatusInternalServerError
		if apperrors.IsBackendFailure(err) {
			status = http.StatusBadGateway
		}
		c.JSON(status, errorBody(err.Error(), "server_error"))
		return
	}

	h.monitor.IncRequestSuccess()
	c.JSON(http.StatusOK, response)
}

func errorBody(message, errType string) gin.H {
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	}
}
