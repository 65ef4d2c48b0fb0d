package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/chatgate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// record appends an admin log entry for a completed mutation. Failures are
// logged and counted, never returned.
func (e *Engine) record(ctx context.Context, actor Actor, action, targetID, reason string, details map[string]any) {
	entry := models.AdminLog{
		ActorID:   actor.ID,
		Action:    action,
		TargetID:  targetID,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: e.clock.Now(),
	}
	if len(details) > 0 {
		raw, errMarshal := json.Marshal(details)
		if errMarshal != nil {
			log.WithError(errMarshal).WithField("action", action).Warn("admin log: details dropped")
		} else {
			entry.Details = datatypes.JSON(raw)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditTimeout)
	defer cancel()
	if errCreate := e.db.WithContext(writeCtx).Create(&entry).Error; errCreate != nil {
		log.WithError(errCreate).WithFields(log.Fields{
			"actor_id": actor.ID,
			"action":   action,
			"target":   targetID,
		}).Error("admin log: write failed")
		e.metrics.AuditFailure()
	}
	e.metrics.AdminAction(action)
}

// LogQuery filters ListLogs.
type LogQuery struct {
	Action  string
	ActorID uint64
	Target  string
	Limit   int
	Offset  int
}

// LogPage is one page of admin log entries.
type LogPage struct {
	Entries []models.AdminLog `json:"entries"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// ListLogs returns admin log entries, newest first.
func (e *Engine) ListLogs(ctx context.Context, q LogQuery) (LogPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	if limit > maxLogPageSize {
		limit = maxLogPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	filter := func(tx *gorm.DB) *gorm.DB {
		if action := strings.TrimSpace(q.Action); action != "" {
			tx = tx.Where("action = ?", action)
		}
		if q.ActorID != 0 {
			tx = tx.Where("actor_id = ?", q.ActorID)
		}
		if target := strings.TrimSpace(q.Target); target != "" {
			tx = tx.Where("target_id = ?", target)
		}
		return tx
	}

	var total int64
	if errCount := e.db.WithContext(ctx).Model(&models.AdminLog{}).Scopes(filter).Count(&total).Error; errCount != nil {
		return LogPage{}, fmt.Errorf("count admin logs: %w", errCount)
	}
	var entries []models.AdminLog
	if errFind := e.db.WithContext(ctx).
		Scopes(filter).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; errFind != nil {
		return LogPage{}, fmt.Errorf("list admin logs: %w", errFind)
	}
	return LogPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// PurgeLogs deletes admin log entries created before cutoff, or every entry
// when cutoff is nil. The purge itself is then logged.
func (e *Engine) PurgeLogs(ctx context.Context, actor Actor, cutoff *time.Time) (int64, error) {
	query := e.db.WithContext(ctx)
	if cutoff != nil {
		query = query.Where("created_at < ?", cutoff.UTC())
	} else {
		query = query.Where("1 = 1")
	}
	res := query.Delete(&models.AdminLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge admin logs: %w", res.Error)
	}
	details := map[string]any{"deleted": res.RowsAffected}
	if cutoff != nil {
		details["before"] = cutoff.UTC().Format(time.RFC3339)
	}
	e.record(ctx, actor, ActionPurgeLogs, "", "", details)
	return res.RowsAffected, nil
}

// RecordAIConfigUpdate logs an AI configuration change made through settings.
func (e *Engine) RecordAIConfigUpdate(ctx context.Context, actor Actor, details map[string]any) {
	e.record(ctx, actor, ActionUpdateAIConfig, "AI_CONFIG", "", details)
}
