package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/settings"
)

// AIConfigHandler updates the runtime AI configuration.
type AIConfigHandler struct {
	engine   *moderation.Engine
	settings *settings.Service
}

// NewAIConfigHandler constructs an AIConfigHandler.
func NewAIConfigHandler(engine *moderation.Engine, svc *settings.Service) *AIConfigHandler {
	return &AIConfigHandler{engine: engine, settings: svc}
}

// Update applies a partial AI configuration and audits the result.
func (h *AIConfigHandler) Update(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	if h.settings == nil {
		api.Fail(c, http.StatusInternalServerError, api.MessageInternal, nil)
		return
	}
	var patch settings.AIConfigPatch
	if errBind := c.ShouldBindJSON(&patch); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	updated, errUpdate := h.settings.UpdateAIConfig(c.Request.Context(), patch)
	if errUpdate != nil {
		api.Error(c, errUpdate)
		return
	}
	h.engine.RecordAIConfigUpdate(c.Request.Context(), actor, map[string]any{
		"model":          updated.Model,
		"temperature":    updated.Temperature,
		"max_tokens":     updated.MaxTokens,
		"allowed_models": updated.AllowedModels,
	})
	api.Success(c, http.StatusOK, gin.H{"config": updated})
}
