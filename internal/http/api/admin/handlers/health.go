package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const healthProbeTimeout = 2 * time.Second

type probe struct {
	name  string
	check func(context.Context) error
}

// HealthHandler reports whether the backing stores answer.
type HealthHandler struct {
	probes []probe
}

// NewHealthHandler probes db and, when rdb is non-nil, redis.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	h := &HealthHandler{}
	h.probes = append(h.probes, probe{name: "database", check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}})
	if rdb != nil {
		h.probes = append(h.probes, probe{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

// Healthz answers 200 when every probe passes and 503 otherwise.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	healthy := true
	checks := make(gin.H, len(h.probes))
	for _, p := range h.probes {
		if err := p.check(ctx); err != nil {
			log.WithError(err).WithField("probe", p.name).Warn("health probe failed")
			checks[p.name] = "unavailable"
			healthy = false
			continue
		}
		checks[p.name] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ok": healthy, "checks": checks})
}
