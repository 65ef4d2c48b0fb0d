package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/reputation"
)

// IPHandler exposes the address checks used by sign-up and login flows.
type IPHandler struct {
	gate       *reputation.Gate
	defaultMax int
}

// NewIPHandler constructs an IPHandler. defaultMax applies when a cap check
// omits max.
func NewIPHandler(gate *reputation.Gate, defaultMax int) *IPHandler {
	return &IPHandler{gate: gate, defaultMax: defaultMax}
}

// requestAddress returns ?ip= when present, else the caller's address.
func requestAddress(c *gin.Context) (string, error) {
	raw := strings.TrimSpace(c.Query("ip"))
	if raw == "" {
		raw = c.ClientIP()
	}
	return reputation.NormalizeAddress(raw)
}

// CheckBan reports whether an address is banned.
func (h *IPHandler) CheckBan(c *gin.Context) {
	addr, errAddr := requestAddress(c)
	if errAddr != nil {
		api.Error(c, errAddr)
		return
	}
	status := h.gate.CheckBan(c.Request.Context(), addr)
	api.Success(c, http.StatusOK, gin.H{
		"ip":         addr,
		"banned":     status.Banned,
		"reason":     status.Reason,
		"expires_at": status.ExpiresAt,
	})
}

// CheckAccountCap reports whether an address has reached its account cap.
func (h *IPHandler) CheckAccountCap(c *gin.Context) {
	addr, errAddr := requestAddress(c)
	if errAddr != nil {
		api.Error(c, errAddr)
		return
	}
	maxAccounts, ok := queryInt(c, "max", h.defaultMax)
	if !ok {
		api.BadRequest(c, "max must be an integer")
		return
	}
	status, errCap := h.gate.CheckAccountCap(c.Request.Context(), addr, maxAccounts)
	if errCap != nil {
		api.Error(c, errCap)
		return
	}
	api.Success(c, http.StatusOK, gin.H{
		"ip":       addr,
		"exceeded": status.Exceeded,
		"count":    status.Count,
		"max":      status.Max,
	})
}

// recordLinkRequest defines the optional body for link recording.
type recordLinkRequest struct {
	Email string `json:"email"`
}

// RecordLink links the current user to the caller's address, refreshing
// last_used when the link exists.
func (h *IPHandler) RecordLink(c *gin.Context) {
	userID := subjectID(c)
	if userID == 0 {
		api.Unauthorized(c)
		return
	}
	var body recordLinkRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			api.BadRequest(c, "invalid json")
			return
		}
	}
	if body.Email == "" {
		body.Email = subjectEmail(c)
	}

	addr := c.ClientIP()
	var errLink error
	if strings.TrimSpace(body.Email) == "" {
		errLink = h.gate.TouchLink(c.Request.Context(), userID, addr)
	} else {
		errLink = h.gate.RecordLink(c.Request.Context(), userID, addr, body.Email)
	}
	if errLink != nil {
		api.Error(c, errLink)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"ip": addr})
}
