package moderation

import (
	"context"
	"time"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	retentionSweepEvery = 6 * time.Hour
	retentionBatch      = 5000
	// Caps a single sweep so a huge backlog drains over several runs.
	retentionMaxBatches = 2000
)

// RetentionDaysFunc reports the audit retention window in days. Zero or
// less keeps everything.
type RetentionDaysFunc func() int

// AuditRetentionCleaner prunes admin_logs rows that have aged out.
type AuditRetentionCleaner struct {
	db            *gorm.DB
	clock         clock.Clock
	retentionDays RetentionDaysFunc
	every         time.Duration
	batchSize     int
}

// NewAuditRetentionCleaner returns nil for a nil db; the nil cleaner is inert.
func NewAuditRetentionCleaner(db *gorm.DB, clk clock.Clock, retentionDays RetentionDaysFunc) *AuditRetentionCleaner {
	if db == nil {
		return nil
	}
	return &AuditRetentionCleaner{
		db:            db,
		clock:         clock.OrSystem(clk),
		retentionDays: retentionDays,
		every:         retentionSweepEvery,
		batchSize:     retentionBatch,
	}
}

// Start sweeps immediately and then on a fixed period until ctx ends.
func (c *AuditRetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(c.every)
		defer ticker.Stop()
		for {
			c.CleanupOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// CleanupOnce runs one sweep and returns the number of rows removed.
func (c *AuditRetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.retentionDays == nil {
		return 0
	}
	days := c.retentionDays()
	if days <= 0 {
		return 0
	}
	cutoff := c.clock.Now().AddDate(0, 0, -days)

	var removed int64
	for batch := 0; batch < retentionMaxBatches && ctx.Err() == nil; batch++ {
		n, err := c.pruneBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("audit retention: prune failed")
			break
		}
		removed += n
		if n < int64(c.batchSize) {
			break
		}
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"removed":        removed,
			"cutoff":         cutoff.Format(time.RFC3339),
			"retention_days": days,
		}).Info("audit retention: pruned admin logs")
	}
	return removed
}

// pruneBatch removes the oldest expired rows, at most batchSize of them.
func (c *AuditRetentionCleaner) pruneBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	size := c.batchSize
	if size <= 0 {
		size = retentionBatch
	}
	tx := c.db.WithContext(ctx)
	oldest := tx.Model(&models.AdminLog{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(size)
	res := tx.Where("id IN (?)", oldest).Delete(&models.AdminLog{})
	return res.RowsAffected, res.Error
}
