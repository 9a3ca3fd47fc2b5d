package websocket

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/infrastructure/audit"
)

var loopbackOriginRe = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// Handler 审计日志的 WebSocket 镜像流。与 SSE 流同源：
// 每条新追加的审计记录推送一个 JSON 帧。
type Handler struct {
	store        *audit.Store
	pollInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(store *audit.Store, pollInterval time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		store:        store,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 无 Origin 的本机客户端（curl、websocat）直接放行
				return origin == "" || loopbackOriginRe.MatchString(origin)
			},
		},
		logger: logger,
	}
}

// StreamAudit handles GET /v1/domekit/audit/ws
func (h *Handler) StreamAudit(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	entryCh := h.store.StreamTail(ctx, h.pollInterval)

	// 丢弃入站消息，同时感知客户端关闭
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entryCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
