package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/security"
	"gorm.io/gorm"
)

const maxKeyAttempts = 5

// LicenseView is a license with its computed status.
type LicenseView struct {
	models.License
	Status string `json:"status"`
}

// CreateLicense issues an unconsumed license for plan. Zero validityDays
// means the key never expires.
func (e *Engine) CreateLicense(ctx context.Context, actor Actor, plan string, validityDays int) (models.License, error) {
	if validityDays < 0 || validityDays > MaxValidityDays {
		return models.License{}, ErrInvalidValidity
	}
	canonical, allotment, errPlan := e.plans.Resolve(plan)
	if errPlan != nil {
		return models.License{}, errPlan
	}

	now := e.clock.Now()
	license := models.License{
		Plan:         canonical,
		ValidityDays: validityDays,
		IssuedBy:     actor.ID,
		CreatedAt:    now,
	}
	if validityDays > 0 {
		expiresAt := now.AddDate(0, 0, validityDays)
		license.ExpiresAt = &expiresAt
	}

	for attempt := 1; ; attempt++ {
		key, errKey := security.GenerateLicenseKey()
		if errKey != nil {
			return models.License{}, fmt.Errorf("generate license key: %w", errKey)
		}
		license.ID = 0
		license.Key = key
		errCreate := e.db.WithContext(ctx).Create(&license).Error
		if errCreate == nil {
			break
		}
		if !db.IsUniqueViolation(errCreate) || attempt >= maxKeyAttempts {
			return models.License{}, fmt.Errorf("create license: %w", errCreate)
		}
	}

	e.record(ctx, actor, ActionCreateLicense, "license:"+license.Key, "", map[string]any{
		"plan":         license.Plan,
		"allotment":    allotment,
		"validityDays": validityDays,
	})
	return license, nil
}

// InvalidateLicense marks key consumed without granting credits. A redeemed
// license may still be invalidated; the credits it granted stay.
func (e *Engine) InvalidateLicense(ctx context.Context, actor Actor, key string) (models.License, error) {
	key = security.NormalizeLicenseKey(key)
	if key == "" {
		return models.License{}, ledger.ErrInvalidLicenseKey
	}
	var license models.License
	if errFind := e.db.WithContext(ctx).Where(&models.License{Key: key}).First(&license).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.License{}, ledger.ErrLicenseNotFound
		}
		return models.License{}, fmt.Errorf("load license: %w", errFind)
	}
	wasConsumed := license.Consumed
	if errUpdate := e.db.WithContext(ctx).
		Model(&models.License{}).
		Where("id = ?", license.ID).
		Updates(map[string]any{"consumed": true, "invalidated": true}).Error; errUpdate != nil {
		return models.License{}, fmt.Errorf("invalidate license: %w", errUpdate)
	}
	license.Consumed = true
	license.Invalidated = true

	e.record(ctx, actor, ActionInvalidateLicense, "license:"+key, "", map[string]any{"wasConsumed": wasConsumed})
	return license, nil
}

// LicenseQuery filters ListLicenses.
type LicenseQuery struct {
	Status string // active, consumed, invalidated, expired or empty for all
	Plan   string
	Limit  int
	Offset int
}

// ListLicenses returns licenses, newest first.
func (e *Engine) ListLicenses(ctx context.Context, q LicenseQuery) ([]LicenseView, int64, error) {
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
	now := e.clock.Now()

	var filterErr error
	filter := func(tx *gorm.DB) *gorm.DB {
		if plan := strings.TrimSpace(q.Plan); plan != "" {
			canonical, _, errPlan := e.plans.Resolve(plan)
			if errPlan != nil {
				filterErr = errPlan
				return tx
			}
			tx = tx.Where("plan = ?", canonical)
		}
		switch strings.ToLower(strings.TrimSpace(q.Status)) {
		case "":
		case "active":
			tx = tx.Where("consumed = ? AND (expires_at IS NULL OR expires_at > ?)", false, now)
		case "consumed":
			tx = tx.Where("consumed = ? AND invalidated = ?", true, false)
		case "invalidated":
			tx = tx.Where("invalidated = ?", true)
		case "expired":
			tx = tx.Where("consumed = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, now)
		default:
			filterErr = fmt.Errorf("%w: unknown license status %q", ErrInvalidFilter, q.Status)
		}
		return tx
	}

	var total int64
	if errCount := e.db.WithContext(ctx).Model(&models.License{}).Scopes(filter).Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", errCount)
	}
	if filterErr != nil {
		return nil, 0, filterErr
	}
	var rows []models.License
	if errFind := e.db.WithContext(ctx).
		Scopes(filter).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", errFind)
	}

	views := make([]LicenseView, 0, len(rows))
	for i := range rows {
		views = append(views, LicenseView{License: rows[i], Status: rows[i].Status(now)})
	}
	return views, total, nil
}

// PurgeInvalidLicenses deletes consumed licenses and unconsumed ones past
// their redemption window.
func (e *Engine) PurgeInvalidLicenses(ctx context.Context, actor Actor) (int64, error) {
	now := e.clock.Now()
	res := e.db.WithContext(ctx).
		Where("consumed = ? OR (expires_at IS NOT NULL AND expires_at <= ?)", true, now).
		Delete(&models.License{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge licenses: %w", res.Error)
	}
	e.record(ctx, actor, ActionPurgeLicenses, "", "", map[string]any{"deleted": res.RowsAffected})
	return res.RowsAffected, nil
}
