package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api/admin/handlers"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/settings"
)

// Deps are the collaborators the admin routes need.
type Deps struct {
	Engine   *moderation.Engine
	Settings *settings.Service
}

// RegisterAdminRoutes registers admin routes under group. Every route
// requires an administrator bearer token.
func RegisterAdminRoutes(group *gin.RouterGroup, deps Deps) {
	if group == nil || deps.Engine == nil {
		return
	}

	admin := group.Group("/admin")
	admin.Use(adminAuthMiddleware(deps.Engine))

	authHandler := handlers.NewAuthHandler()
	admin.POST("/verify", authHandler.Verify)

	userHandler := handlers.NewUserHandler(deps.Engine)
	admin.GET("/users/:id", userHandler.Get)
	admin.POST("/users/:id/ban", userHandler.Ban)
	admin.POST("/users/:id/unban", userHandler.Unban)
	admin.POST("/users/:id/promote", userHandler.Promote)
	admin.POST("/users/:id/demote", userHandler.Demote)
	admin.POST("/users/:id/reset-messages", userHandler.ResetMessages)
	admin.PUT("/users/:id/plan", userHandler.UpdatePlan)
	admin.DELETE("/users/:id", userHandler.Delete)

	ipBanHandler := handlers.NewIPBanHandler(deps.Engine)
	admin.GET("/ip-bans", ipBanHandler.List)
	admin.POST("/ip-bans", ipBanHandler.Create)
	admin.DELETE("/ip-bans/:ip", ipBanHandler.Delete)

	licenseHandler := handlers.NewLicenseHandler(deps.Engine)
	admin.GET("/licenses", licenseHandler.List)
	admin.POST("/licenses", licenseHandler.Create)
	admin.POST("/licenses/purge", licenseHandler.Purge)
	admin.POST("/licenses/:key/invalidate", licenseHandler.Invalidate)

	statsHandler := handlers.NewStatsHandler(deps.Engine)
	admin.GET("/stats", statsHandler.Get)

	logsHandler := handlers.NewLogsHandler(deps.Engine)
	admin.GET("/logs", logsHandler.List)
	admin.DELETE("/logs", logsHandler.Purge)

	aiConfigHandler := handlers.NewAIConfigHandler(deps.Engine, deps.Settings)
	admin.PUT("/ai-config", aiConfigHandler.Update)
}
