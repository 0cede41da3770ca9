package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/service"
)

// roleAuditor 可以查看所有子账户的执行记录，普通账户只看自己的。
const roleAuditor = "auditor"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// API Key 已经在 Auth 中间件校验过，跨域来源不再限制
	CheckOrigin: func(r *http.Request) bool { return true },
}

type EventsHandler struct {
	log *service.ExecutionLog
}

func NewEventsHandler(log *service.ExecutionLog) *EventsHandler {
	return &EventsHandler{log: log}
}

// List GET /v1/executions
func (h *EventsHandler) List(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)

	kind := c.Query("kind")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	subFilter := acct.ID
	if acct.HasRole(roleAuditor) {
		subFilter = c.Query("sub_account")
	}

	records, err := h.log.List(c.Request.Context(), subFilter, kind, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Stream GET /v1/executions/ws — 执行记录实时推送
func (h *EventsHandler) Stream(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了响应
		return
	}
	defer conn.Close()

	records, cancel := h.log.Subscribe()
	defer cancel()

	// 读泵只用于探测断连
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	auditor := acct.HasRole(roleAuditor)
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case rec, ok := <-records:
			if !ok {
				return
			}
			if !auditor && rec.SubAccount != acct.ID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				logger.Debug("websocket subscriber dropped", "sub_account", acct.ID, "error", err)
				return
			}
		}
	}
}
