package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/moderation"
)

// IPBanHandler handles admin operations on address bans.
type IPBanHandler struct {
	engine *moderation.Engine
}

// NewIPBanHandler constructs an IPBanHandler.
func NewIPBanHandler(engine *moderation.Engine) *IPBanHandler {
	return &IPBanHandler{engine: engine}
}

// ipBanDTO defines the address ban response payload.
type ipBanDTO struct {
	ID        uint64     `json:"id"`
	IPAddress string     `json:"ip_address"`
	Reason    string     `json:"reason"`
	BannedBy  uint64     `json:"banned_by"`
	BannedAt  time.Time  `json:"banned_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func formatIPBan(b *models.IPBan) ipBanDTO {
	return ipBanDTO{
		ID:        b.ID,
		IPAddress: b.IPAddress,
		Reason:    b.Reason,
		BannedBy:  b.BannedBy,
		BannedAt:  b.BannedAt,
		ExpiresAt: b.ExpiresAt,
	}
}

// createIPBanRequest defines the request body for address bans.
type createIPBanRequest struct {
	IPAddress    string `json:"ip_address"`
	Reason       string `json:"reason"`
	DurationDays *int   `json:"duration_days"` // Omitted or 0 bans permanently.
}

// Create bans an address.
func (h *IPBanHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	var body createIPBanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(body.IPAddress) == "" {
		api.BadRequest(c, "missing ip_address")
		return
	}
	duration, okDuration := daysToDuration(body.DurationDays)
	if !okDuration {
		api.BadRequest(c, durationDaysMessage)
		return
	}
	ban, errBan := h.engine.BanIP(c.Request.Context(), actor, body.IPAddress, body.Reason, duration)
	if errBan != nil {
		api.Error(c, errBan)
		return
	}
	api.Success(c, http.StatusCreated, gin.H{"ban": formatIPBan(&ban)})
}

// Delete lifts every ban on an address.
func (h *IPBanHandler) Delete(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	removed, errUnban := h.engine.UnbanIP(c.Request.Context(), actor, c.Param("ip"))
	if errUnban != nil {
		api.Error(c, errUnban)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"removed": removed})
}

// List returns ban records, optionally filtered by ?ip=.
func (h *IPBanHandler) List(c *gin.Context) {
	bans, errList := h.engine.ListIPBans(c.Request.Context(), c.Query("ip"))
	if errList != nil {
		api.Error(c, errList)
		return
	}
	resp := make([]ipBanDTO, 0, len(bans))
	for i := range bans {
		resp = append(resp, formatIPBan(&bans[i]))
	}
	api.Success(c, http.StatusOK, gin.H{"bans": resp})
}
