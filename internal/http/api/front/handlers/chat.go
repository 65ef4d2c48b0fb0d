package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/settings"
)

const maxHistoryMessages = 50

// ChatHandler serves quota-checked completions.
type ChatHandler struct {
	ledger   *ledger.Ledger
	settings *settings.Service
	provider ai.Provider
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(l *ledger.Ledger, s *settings.Service, p ai.Provider) *ChatHandler {
	return &ChatHandler{ledger: l, settings: s, provider: p}
}

// chatRequest defines the request body for a chat turn.
type chatRequest struct {
	Message string       `json:"message"`
	Model   string       `json:"model"`
	History []ai.Message `json:"history"`
}

// Chat runs one completion and charges one message credit on success.
func (h *ChatHandler) Chat(c *gin.Context) {
	userID := subjectID(c)
	if userID == 0 {
		api.Unauthorized(c)
		return
	}

	var body chatRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		api.BadRequest(c, "message is required")
		return
	}
	if len(body.History) > maxHistoryMessages {
		body.History = body.History[len(body.History)-maxHistoryMessages:]
	}

	cfg := h.settings.AIConfig()
	model := strings.TrimSpace(body.Model)
	if model == "" {
		model = cfg.Model
	}
	if errModel := ai.CheckModel(cfg.AllowedModels, model); errModel != nil {
		api.Error(c, errModel)
		return
	}

	req := ai.Request{
		Model:        model,
		SystemPrompt: cfg.SystemPrompt,
		History:      body.History,
		UserMessage:  message,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}

	var completion ai.Completion
	usage, errConsume := h.ledger.Consume(c.Request.Context(), userID, func(ctx context.Context) error {
		var errComplete error
		completion, errComplete = h.provider.Complete(ctx, req)
		return errComplete
	})
	if errConsume != nil {
		api.Error(c, errConsume)
		return
	}

	api.Success(c, http.StatusOK, gin.H{
		"reply":     completion.Text,
		"model":     completion.Model,
		"used":      usage.Used,
		"limit":     usage.Limit,
		"remaining": max(usage.Limit-usage.Used, 0),
	})
}
