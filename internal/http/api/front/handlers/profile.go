package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/models"
	"gorm.io/gorm"
)

type profileDTO struct {
	ID            uint64     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Plan          string     `json:"plan"`
	MessagesUsed  int64      `json:"messages_used"`
	MessagesLimit int64      `json:"messages_limit"`
	Remaining     int64      `json:"messages_remaining"`
	Banned        bool       `json:"banned"`
	BanReason     string     `json:"ban_reason,omitempty"`
	BannedUntil   *time.Time `json:"banned_until,omitempty"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newProfileDTO(u models.User, now time.Time) profileDTO {
	dto := profileDTO{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Plan:          u.Plan,
		MessagesUsed:  u.MessagesUsed,
		MessagesLimit: u.MessagesLimit,
		Remaining:     max(u.MessagesLimit-u.MessagesUsed, 0),
		IsAdmin:       u.IsAdmin,
		CreatedAt:     u.CreatedAt,
	}
	if u.BanActive(now) {
		dto.Banned = true
		dto.BanReason = u.BanReason
		dto.BannedUntil = u.BannedUntil
	}
	return dto
}

// ProfileHandler serves the caller's own account view.
type ProfileHandler struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB, clk clock.Clock) *ProfileHandler {
	return &ProfileHandler{db: db, clock: clock.OrSystem(clk)}
}

// Get returns plan, balance and ban state for the authenticated user.
func (h *ProfileHandler) Get(c *gin.Context) {
	id := subjectID(c)
	if id == 0 {
		api.Unauthorized(c)
		return
	}
	var user models.User
	err := h.db.WithContext(c.Request.Context()).First(&user, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		api.Error(c, ledger.ErrUserNotFound)
	case err != nil:
		api.Error(c, err)
	default:
		api.Success(c, http.StatusOK, gin.H{"profile": newProfileDTO(user, h.clock.Now())})
	}
}
