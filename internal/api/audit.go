package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"treasuryarena/internal/events"
)

const defaultAuditLimit = 50

type AuditHandler struct {
	Hub     *events.Hub
	BaseCtx context.Context

	upgrader websocket.Upgrader
}

func (h *AuditHandler) Register(r *gin.Engine) {
	r.GET("/audit", h.list)
	r.GET("/ws/audit", h.stream)
}

func (h *AuditHandler) list(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusInternalServerError, "audit log unavailable", nil)
		return
	}
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(c, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}
	items, err := h.Hub.ListAudit(c.Request.Context(), limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit})
}

func (h *AuditHandler) stream(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusInternalServerError, "audit log unavailable", nil)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	h.Hub.Stream(h.BaseCtx, conn)
}
