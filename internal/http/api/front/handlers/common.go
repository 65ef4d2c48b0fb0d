package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/security"
)

const identityKey = "chatgate.identity"

// SetIdentity records the authenticated caller for downstream handlers.
func SetIdentity(c *gin.Context, id security.Identity) {
	c.Set(identityKey, id)
}

// subjectID is zero when no identity was recorded.
func subjectID(c *gin.Context) uint64 {
	if id, ok := c.Value(identityKey).(security.Identity); ok {
		return id.SubjectID
	}
	return 0
}

func subjectEmail(c *gin.Context) string {
	id, _ := c.Value(identityKey).(security.Identity)
	return id.Email
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw, present := c.GetQuery(key)
	if raw = strings.TrimSpace(raw); !present || raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}
