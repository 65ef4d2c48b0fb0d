package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
)

// AuthHandler answers admin credential checks.
type AuthHandler struct{}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Verify confirms the bearer token belongs to an administrator.
func (h *AuthHandler) Verify(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	api.Success(c, http.StatusOK, gin.H{
		"admin": gin.H{"id": actor.ID, "email": actor.Email},
	})
}
