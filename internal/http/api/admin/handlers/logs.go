package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/moderation"
	"gorm.io/datatypes"
)

// LogsHandler serves the admin audit trail.
type LogsHandler struct {
	engine *moderation.Engine
}

// NewLogsHandler constructs a LogsHandler.
func NewLogsHandler(engine *moderation.Engine) *LogsHandler {
	return &LogsHandler{engine: engine}
}

// adminLogDTO is one audit entry in the list response.
type adminLogDTO struct {
	ID        uint64         `json:"id"`
	ActorID   uint64         `json:"actor_id"`
	Action    string         `json:"action"`
	TargetID  string         `json:"target_id"`
	Reason    string         `json:"reason"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func formatAdminLog(l *models.AdminLog) adminLogDTO {
	return adminLogDTO{
		ID:        l.ID,
		ActorID:   l.ActorID,
		Action:    l.Action,
		TargetID:  l.TargetID,
		Reason:    l.Reason,
		Details:   l.Details,
		CreatedAt: l.CreatedAt,
	}
}

// List returns audit entries filtered by ?action=, ?actor_id= and ?target=.
func (h *LogsHandler) List(c *gin.Context) {
	limit, offset, ok := parsePagination(c)
	if !ok {
		api.BadRequest(c, "invalid pagination")
		return
	}
	var actorID uint64
	if raw := strings.TrimSpace(c.Query("actor_id")); raw != "" {
		v, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			api.BadRequest(c, "invalid actor_id")
			return
		}
		actorID = v
	}
	page, errList := h.engine.ListLogs(c.Request.Context(), moderation.LogQuery{
		Action:  strings.TrimSpace(c.Query("action")),
		ActorID: actorID,
		Target:  strings.TrimSpace(c.Query("target")),
		Limit:   limit,
		Offset:  offset,
	})
	if errList != nil {
		api.Error(c, errList)
		return
	}
	entries := make([]adminLogDTO, 0, len(page.Entries))
	for i := range page.Entries {
		entries = append(entries, formatAdminLog(&page.Entries[i]))
	}
	api.Success(c, http.StatusOK, gin.H{
		"entries": entries,
		"total":   page.Total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// Purge deletes audit entries older than ?before= (RFC3339), or all of them.
func (h *LogsHandler) Purge(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	var cutoff *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		parsed, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			api.BadRequest(c, "invalid before, expected RFC3339")
			return
		}
		parsed = parsed.UTC()
		cutoff = &parsed
	}
	deleted, errPurge := h.engine.PurgeLogs(c.Request.Context(), actor, cutoff)
	if errPurge != nil {
		api.Error(c, errPurge)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}
