package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/moderation"
)

// StatsHandler serves aggregate counts for the admin dashboard.
type StatsHandler struct {
	engine *moderation.Engine
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(engine *moderation.Engine) *StatsHandler {
	return &StatsHandler{engine: engine}
}

// Get returns system stats.
func (h *StatsHandler) Get(c *gin.Context) {
	stats, errStats := h.engine.GetSystemStats(c.Request.Context())
	if errStats != nil {
		api.Error(c, errStats)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"stats": stats})
}
