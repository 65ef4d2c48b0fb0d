package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/settings"
)

// AIConfigHandler exposes the public AI configuration.
type AIConfigHandler struct {
	settings *settings.Service
}

// NewAIConfigHandler constructs an AIConfigHandler.
func NewAIConfigHandler(s *settings.Service) *AIConfigHandler {
	return &AIConfigHandler{settings: s}
}

// Get returns the active model, allow-list and sampling parameters.
func (h *AIConfigHandler) Get(c *gin.Context) {
	api.Success(c, http.StatusOK, gin.H{"config": h.settings.AIConfig()})
}
