package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/moderation"
)

const actorContextKey = "adminActor"

// SetActor stores the authorized administrator on the request context.
func SetActor(c *gin.Context, actor moderation.Actor) {
	c.Set(actorContextKey, actor)
	c.Set("adminID", actor.ID)
}

// getActor returns the authorized administrator.
func getActor(c *gin.Context) (moderation.Actor, bool) {
	val, exists := c.Get(actorContextKey)
	if !exists {
		return moderation.Actor{}, false
	}
	actor, ok := val.(moderation.Actor)
	return actor, ok && actor.ID != 0
}

// parseUintParam parses a positive integer path parameter.
func parseUintParam(c *gin.Context, key string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// parsePagination reads limit and offset query parameters.
func parsePagination(c *gin.Context) (int, int, bool) {
	limit, offset := 0, 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		limit = v
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
