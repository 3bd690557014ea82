package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"treasuryarena/internal/arena"
	"treasuryarena/internal/engine"
	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
	"treasuryarena/internal/validation"
)

type TradeHandler struct {
	Engine TradingEngine
	Arena  Arena
}

type submitRequest struct {
	AgentID string             `json:"agent_id"`
	Intent  models.TradeIntent `json:"intent"`
}

type stopRequest struct {
	Reason string `json:"reason"`
}

type resumeRequest struct {
	Operator string `json:"operator"`
}

func (h *TradeHandler) Register(r *gin.Engine) {
	r.POST("/trades", h.submit)
	r.GET("/trades/:id", h.get)
	r.GET("/status", h.status)
	group := r.Group("/emergency")
	group.POST("/stop", h.stop)
	group.POST("/resume", h.resume)
}

func (h *TradeHandler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		Error(c, http.StatusBadRequest, "agent_id is required", nil)
		return
	}
	a, err := h.Arena.Agent(req.AgentID)
	if err != nil {
		if errors.Is(err, arena.ErrUnknownAgent) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	receipt, err := h.Engine.Submit(c.Request.Context(), a, req.Intent)
	if err != nil {
		meta := map[string]any{"status": receipt.Status}
		if receipt.TradeID != "" {
			meta["trade_id"] = receipt.TradeID
		}
		switch {
		case errors.Is(err, engine.ErrTradingDisabled):
			Error(c, http.StatusServiceUnavailable, err.Error(), meta)
		case errors.Is(err, validation.ErrValidationFailed),
			errors.Is(err, engine.ErrUnknownVenue),
			errors.Is(err, engine.ErrUnknownTradeKind):
			Error(c, http.StatusUnprocessableEntity, receipt.Reason, meta)
		default:
			Error(c, http.StatusInternalServerError, err.Error(), meta)
		}
		return
	}
	Ok(c, receipt, nil)
}

func (h *TradeHandler) get(c *gin.Context) {
	trade, err := h.Engine.Trade(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			Error(c, http.StatusNotFound, "trade not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, trade, nil)
}

func (h *TradeHandler) status(c *gin.Context) {
	st, err := h.Engine.Status(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, st, nil)
}

func (h *TradeHandler) stop(c *gin.Context) {
	var req stopRequest
	// an empty body is a valid stop
	_ = c.ShouldBindJSON(&req)
	h.Engine.EmergencyStop(c.Request.Context(), req.Reason)
	Ok(c, gin.H{"enabled": false}, nil)
}

func (h *TradeHandler) resume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Operator) == "" {
		Error(c, http.StatusBadRequest, "operator is required", nil)
		return
	}
	h.Engine.EmergencyResume(c.Request.Context(), req.Operator)
	Ok(c, gin.H{"enabled": true}, nil)
}
