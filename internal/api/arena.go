package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"treasuryarena/internal/arena"
)

type ArenaHandler struct {
	Arena Arena
}

func (h *ArenaHandler) Register(r *gin.Engine) {
	group := r.Group("/arena")
	group.GET("/stats", h.stats)
	group.GET("/agents", h.agents)
	group.GET("/agents/:id", h.agent)
}

func (h *ArenaHandler) stats(c *gin.Context) {
	Ok(c, h.Arena.Stats(), nil)
}

func (h *ArenaHandler) agents(c *gin.Context) {
	views := h.Arena.AllAgents()
	Ok(c, views, map[string]any{"total": len(views)})
}

func (h *ArenaHandler) agent(c *gin.Context) {
	a, err := h.Arena.Agent(c.Param("id"))
	if err != nil {
		if errors.Is(err, arena.ErrUnknownAgent) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	view := a.View()
	Ok(c, view, map[string]any{"history": a.History()})
}
