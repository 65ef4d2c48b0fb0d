package admin

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/http/api/admin/handlers"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/security"
)

// adminAuthMiddleware resolves the bearer token to an administrator. Every
// failure answers the same 401.
func adminAuthMiddleware(engine *moderation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := security.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			api.Unauthorized(c)
			return
		}

		actor, errAuth := engine.Authorize(c.Request.Context(), token)
		if errAuth != nil {
			if errors.Is(errAuth, moderation.ErrUnauthorized) {
				api.Unauthorized(c)
				return
			}
			api.Error(c, errAuth)
			c.Abort()
			return
		}

		handlers.SetActor(c, actor)
		c.Next()
	}
}
