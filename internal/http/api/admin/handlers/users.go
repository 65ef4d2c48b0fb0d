package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/moderation"
)

// UserHandler handles admin operations on user accounts.
type UserHandler struct {
	engine *moderation.Engine
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(engine *moderation.Engine) *UserHandler {
	return &UserHandler{engine: engine}
}

// userDTO defines the user response payload.
type userDTO struct {
	ID            uint64     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Plan          string     `json:"plan"`
	MessagesUsed  int64      `json:"messages_used"`
	MessagesLimit int64      `json:"messages_limit"`
	Banned        bool       `json:"banned"`
	BanReason     string     `json:"ban_reason,omitempty"`
	BannedAt      *time.Time `json:"banned_at,omitempty"`
	BannedUntil   *time.Time `json:"banned_until,omitempty"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// linkDTO defines the user-address link payload.
type linkDTO struct {
	IPAddress  string    `json:"ip_address"`
	RecordedAt time.Time `json:"recorded_at"`
	LastUsed   time.Time `json:"last_used"`
}

func formatUser(u *models.User) userDTO {
	return userDTO{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Plan:          u.Plan,
		MessagesUsed:  u.MessagesUsed,
		MessagesLimit: u.MessagesLimit,
		Banned:        u.Banned,
		BanReason:     u.BanReason,
		BannedAt:      u.BannedAt,
		BannedUntil:   u.BannedUntil,
		IsAdmin:       u.IsAdmin,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// Get returns one user with its address links.
func (h *UserHandler) Get(c *gin.Context) {
	userID, ok := parseUintParam(c, "id")
	if !ok {
		api.BadRequest(c, "invalid user id")
		return
	}
	detail, errGet := h.engine.GetUser(c.Request.Context(), userID)
	if errGet != nil {
		api.Error(c, errGet)
		return
	}
	links := make([]linkDTO, 0, len(detail.Links))
	for _, link := range detail.Links {
		links = append(links, linkDTO{IPAddress: link.IPAddress, RecordedAt: link.RecordedAt, LastUsed: link.LastUsed})
	}
	api.Success(c, http.StatusOK, gin.H{"user": formatUser(&detail.User), "links": links})
}

// banUserRequest defines the request body for account bans.
type banUserRequest struct {
	Reason       string `json:"reason"`
	DurationDays *int   `json:"duration_days"` // Omitted or 0 bans permanently.
}

// Ban bans a user account.
func (h *UserHandler) Ban(c *gin.Context) {
	actor, userID, ok := h.target(c)
	if !ok {
		return
	}
	var body banUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	duration, okDuration := daysToDuration(body.DurationDays)
	if !okDuration {
		api.BadRequest(c, durationDaysMessage)
		return
	}
	user, errBan := h.engine.BanUser(c.Request.Context(), actor, userID, body.Reason, duration)
	if errBan != nil {
		api.Error(c, errBan)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"user": formatUser(&user)})
}

// Unban clears a user ban.
func (h *UserHandler) Unban(c *gin.Context) {
	h.mutate(c, h.engine.UnbanUser)
}

// Promote grants admin rights.
func (h *UserHandler) Promote(c *gin.Context) {
	h.mutate(c, h.engine.PromoteUser)
}

// Demote revokes admin rights.
func (h *UserHandler) Demote(c *gin.Context) {
	h.mutate(c, h.engine.DemoteUser)
}

// ResetMessages zeroes a user's message count.
func (h *UserHandler) ResetMessages(c *gin.Context) {
	actor, userID, ok := h.target(c)
	if !ok {
		return
	}
	usage, errReset := h.engine.ResetMessages(c.Request.Context(), actor, userID)
	if errReset != nil {
		api.Error(c, errReset)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"used": usage.Used, "limit": usage.Limit, "plan": usage.Plan})
}

// updatePlanRequest defines the request body for plan changes.
type updatePlanRequest struct {
	Plan string `json:"plan"`
}

// UpdatePlan moves a user to another plan.
func (h *UserHandler) UpdatePlan(c *gin.Context) {
	actor, userID, ok := h.target(c)
	if !ok {
		return
	}
	var body updatePlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(body.Plan) == "" {
		api.BadRequest(c, "missing plan")
		return
	}
	usage, errPlan := h.engine.UpdateUserPlan(c.Request.Context(), actor, userID, body.Plan)
	if errPlan != nil {
		api.Error(c, errPlan)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"used": usage.Used, "limit": usage.Limit, "plan": usage.Plan})
}

// Delete removes a user account.
func (h *UserHandler) Delete(c *gin.Context) {
	actor, userID, ok := h.target(c)
	if !ok {
		return
	}
	if errDelete := h.engine.DeleteUser(c.Request.Context(), actor, userID); errDelete != nil {
		api.Error(c, errDelete)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"id": userID})
}

type userMutation func(ctx context.Context, actor moderation.Actor, userID uint64) (models.User, error)

func (h *UserHandler) mutate(c *gin.Context, fn userMutation) {
	actor, userID, ok := h.target(c)
	if !ok {
		return
	}
	user, errMutate := fn(c.Request.Context(), actor, userID)
	if errMutate != nil {
		api.Error(c, errMutate)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"user": formatUser(&user)})
}

func (h *UserHandler) target(c *gin.Context) (moderation.Actor, uint64, bool) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return moderation.Actor{}, 0, false
	}
	userID, okID := parseUintParam(c, "id")
	if !okID {
		api.BadRequest(c, "invalid user id")
		return moderation.Actor{}, 0, false
	}
	return actor, userID, true
}

var durationDaysMessage = fmt.Sprintf("duration_days must be between 0 and %d", moderation.MaxBanDays)

// daysToDuration converts an optional day count; nil and 0 mean permanent.
// Counts outside 0..MaxBanDays are rejected before the multiplication can wrap.
func daysToDuration(days *int) (time.Duration, bool) {
	if days == nil {
		return 0, true
	}
	if *days < 0 || *days > moderation.MaxBanDays {
		return 0, false
	}
	return time.Duration(*days) * 24 * time.Hour, true
}
