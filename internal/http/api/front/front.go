package front

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/http/api/front/handlers"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/reputation"
	"github.com/router-for-me/chatgate/internal/security"
	"github.com/router-for-me/chatgate/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the collaborators the front routes need.
type Deps struct {
	DB               *gorm.DB
	Verifier         security.Verifier
	Gate             *reputation.Gate
	Ledger           *ledger.Ledger
	Settings         *settings.Service
	Provider         ai.Provider
	MaxAccountsPerIP int
	Clock            clock.Clock
}

// RegisterFrontRoutes registers public and authenticated front-end routes under group.
func RegisterFrontRoutes(group *gin.RouterGroup, deps Deps) {
	if group == nil || deps.DB == nil {
		return
	}

	front := group.Group("/front")

	aiConfigHandler := handlers.NewAIConfigHandler(deps.Settings)
	front.GET("/ai-config", aiConfigHandler.Get)

	ipHandler := handlers.NewIPHandler(deps.Gate, deps.MaxAccountsPerIP)
	front.GET("/ip/ban", ipHandler.CheckBan)
	front.GET("/ip/account-cap", ipHandler.CheckAccountCap)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.Verifier))

	authed.POST("/ip/link", ipHandler.RecordLink)

	chatHandler := handlers.NewChatHandler(deps.Ledger, deps.Settings, deps.Provider)
	authed.POST("/chat", chatHandler.Chat)

	licenseHandler := handlers.NewLicenseFrontHandler(deps.Ledger)
	authed.POST("/licenses/redeem", licenseHandler.Redeem)

	profileHandler := handlers.NewProfileHandler(deps.DB, deps.Clock)
	authed.GET("/profile", profileHandler.Get)
}

// userAuthMiddleware validates user bearer tokens and loads the user ID into context.
func userAuthMiddleware(db *gorm.DB, verifier security.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := security.BearerToken(c.GetHeader("Authorization"))
		if !ok || verifier == nil {
			api.Unauthorized(c)
			return
		}

		identity, errVerify := verifier.Verify(c.Request.Context(), token)
		if errVerify != nil {
			api.Unauthorized(c)
			return
		}

		var count int64
		if errCount := db.WithContext(c.Request.Context()).
			Model(&models.User{}).
			Where("id = ?", identity.SubjectID).
			Count(&count).Error; errCount != nil {
			log.WithError(errCount).Error("user auth: lookup failed")
			api.AbortFail(c, http.StatusInternalServerError, api.MessageInternal, nil)
			return
		}
		if count == 0 {
			api.Unauthorized(c)
			return
		}

		handlers.SetIdentity(c, identity)
		c.Next()
	}
}
