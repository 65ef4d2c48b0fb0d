// Package ledger owns the per-user message balance: consumption around a
// completion call and replenishment through license redemption.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/metrics"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/security"
	"github.com/router-for-me/chatgate/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultIncrementTimeout = 5 * time.Second
	redeemAttempts          = 5
	redeemBackoff           = 20 * time.Millisecond
)

// Ledger errors.
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAccountBanned          = errors.New("account banned")
	ErrQuotaExceeded          = errors.New("message quota exceeded")
	ErrInvalidLicenseKey      = errors.New("license key is required")
	ErrLicenseNotFound        = errors.New("license not found")
	ErrLicenseAlreadyConsumed = errors.New("license already consumed")
	ErrLicenseExpired         = errors.New("license expired")
)

// Action is the external work a message credit pays for.
type Action func(ctx context.Context) error

// Usage is a user's balance as seen by the ledger.
type Usage struct {
	Used  int64  `json:"used"`
	Limit int64  `json:"limit"`
	Plan  string `json:"plan"`
}

// RedeemResult describes a successful redemption.
type RedeemResult struct {
	Plan      string `json:"plan"`
	Allotment int64  `json:"allotment"`
	NewLimit  int64  `json:"new_limit"`
}

// Options configures a Ledger.
type Options struct {
	DB      *gorm.DB
	Plans   *plans.Catalog
	Clock   clock.Clock
	Metrics *metrics.Metrics
	// Strict reserves the credit with a conditional update before the
	// action runs and refunds it when the action fails.
	Strict bool
	// IncrementTimeout bounds the post-action write. Defaults to 5s.
	IncrementTimeout time.Duration
}

// Ledger accounts message credits.
type Ledger struct {
	db               *gorm.DB
	plans            *plans.Catalog
	clock            clock.Clock
	metrics          *metrics.Metrics
	strict           bool
	incrementTimeout time.Duration
}

// New constructs a Ledger.
func New(opts Options) *Ledger {
	catalog := opts.Plans
	if catalog == nil {
		catalog = plans.Default()
	}
	timeout := opts.IncrementTimeout
	if timeout <= 0 {
		timeout = defaultIncrementTimeout
	}
	return &Ledger{
		db:               opts.DB,
		plans:            catalog,
		clock:            clock.OrSystem(opts.Clock),
		metrics:          opts.Metrics,
		strict:           opts.Strict,
		incrementTimeout: timeout,
	}
}

// Usage returns the current balance of userID.
func (l *Ledger) Usage(ctx context.Context, userID uint64) (Usage, error) {
	user, errLoad := l.loadUser(ctx, l.db, userID)
	if errLoad != nil {
		return Usage{}, errLoad
	}
	return usageOf(user), nil
}

// Consume charges one credit to userID for a successful action.
//
// A banned account fails with ErrAccountBanned before the balance is
// considered. A failed or cancelled action leaves the balance untouched.
// A failure to persist the increment after a successful action is logged and
// does not fail the call.
func (l *Ledger) Consume(ctx context.Context, userID uint64, action Action) (Usage, error) {
	user, errLoad := l.loadUser(ctx, l.db, userID)
	if errLoad != nil {
		return Usage{}, errLoad
	}
	if user.BanActive(l.clock.Now()) {
		l.metrics.LedgerOperation("consume", metrics.OutcomeDenied)
		return usageOf(user), ErrAccountBanned
	}
	if user.MessagesUsed >= user.MessagesLimit {
		l.metrics.LedgerOperation("consume", metrics.OutcomeDenied)
		return usageOf(user), ErrQuotaExceeded
	}
	if l.strict {
		return l.consumeReserved(ctx, user, action)
	}

	if errAction := action(ctx); errAction != nil {
		l.metrics.LedgerOperation("consume", metrics.OutcomeFailure)
		return usageOf(user), errAction
	}

	usage := usageOf(user)
	usage.Used++

	incCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.incrementTimeout)
	defer cancel()
	if errInc := l.adjustUsed(incCtx, user.ID, 1); errInc != nil {
		log.WithError(errInc).WithField("user_id", user.ID).Error("ledger: failed to persist message increment")
		l.metrics.LedgerOperation("increment", metrics.OutcomeFailure)
	}
	l.metrics.LedgerOperation("consume", metrics.OutcomeSuccess)
	return usage, nil
}

func (l *Ledger) consumeReserved(ctx context.Context, user *models.User, action Action) (Usage, error) {
	res := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND messages_used < messages_limit", user.ID).
		UpdateColumn("messages_used", gorm.Expr("messages_used + ?", 1))
	if res.Error != nil {
		return usageOf(user), fmt.Errorf("reserve credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		l.metrics.LedgerOperation("consume", metrics.OutcomeDenied)
		return usageOf(user), ErrQuotaExceeded
	}

	if errAction := action(ctx); errAction != nil {
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.incrementTimeout)
		defer cancel()
		if errRefund := l.adjustUsed(refundCtx, user.ID, -1); errRefund != nil {
			log.WithError(errRefund).WithField("user_id", user.ID).Error("ledger: failed to refund reserved credit")
			l.metrics.LedgerOperation("refund", metrics.OutcomeFailure)
		}
		l.metrics.LedgerOperation("consume", metrics.OutcomeFailure)
		return usageOf(user), errAction
	}

	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.incrementTimeout)
	defer cancel()
	current, errLoad := l.loadUser(readCtx, l.db, user.ID)
	if errLoad != nil {
		usage := usageOf(user)
		usage.Used++
		l.metrics.LedgerOperation("consume", metrics.OutcomeSuccess)
		return usage, nil
	}
	l.metrics.LedgerOperation("consume", metrics.OutcomeSuccess)
	return usageOf(current), nil
}

// adjustUsed moves messages_used by delta without letting it drop below zero.
func (l *Ledger) adjustUsed(ctx context.Context, userID uint64, delta int64) error {
	q := l.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID)
	if delta < 0 {
		q = q.Where("messages_used >= ?", -delta)
	}
	return q.UpdateColumn("messages_used", gorm.Expr("messages_used + ?", delta)).Error
}

// RedeemLicense consumes the license identified by key on behalf of userID
// and raises the user's limit by the plan allotment. The consumed flag is
// flipped with a conditional update so a key pays out at most once. A
// transaction that loses a write race on sqlite is retried; the retry then
// observes the winner and reports ErrLicenseAlreadyConsumed.
func (l *Ledger) RedeemLicense(ctx context.Context, userID uint64, key string) (RedeemResult, error) {
	key = security.NormalizeLicenseKey(key)
	if key == "" {
		return RedeemResult{}, ErrInvalidLicenseKey
	}

	var (
		result RedeemResult
		errTx  error
	)
	for attempt := 1; ; attempt++ {
		result, errTx = l.redeemTx(ctx, userID, key)
		if errTx == nil || !db.IsRetryable(errTx) || attempt == redeemAttempts {
			break
		}
		if errWait := waitContext(ctx, time.Duration(attempt)*redeemBackoff); errWait != nil {
			errTx = errWait
			break
		}
	}
	if errTx != nil {
		l.metrics.LedgerOperation("redeem", metrics.OutcomeFailure)
		return RedeemResult{}, errTx
	}
	l.metrics.LedgerOperation("redeem", metrics.OutcomeSuccess)
	log.WithFields(log.Fields{
		"user_id": userID,
		"key":     util.MaskSecret(key),
		"plan":    result.Plan,
		"limit":   result.NewLimit,
	}).Info("license redeemed")
	return result, nil
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Ledger) redeemTx(ctx context.Context, userID uint64, key string) (RedeemResult, error) {
	var result RedeemResult
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errUser := l.loadUser(ctx, tx, userID)
		if errUser != nil {
			return errUser
		}

		var license models.License
		if errFind := tx.Where(&models.License{Key: key}).First(&license).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrLicenseNotFound
			}
			return fmt.Errorf("load license: %w", errFind)
		}
		if license.Consumed {
			return ErrLicenseAlreadyConsumed
		}
		now := l.clock.Now()
		if license.Expired(now) {
			return ErrLicenseExpired
		}
		plan, allotment, errPlan := l.plans.Resolve(license.Plan)
		if errPlan != nil {
			// A stored license naming a plan the catalog lacks is a data
			// fault, not a caller mistake.
			log.WithFields(log.Fields{"license_id": license.ID, "plan": license.Plan}).Error("license references unknown plan")
			return fmt.Errorf("license %d: plan %q is not in the catalog", license.ID, license.Plan)
		}

		res := tx.Model(&models.License{}).
			Where("id = ? AND consumed = ?", license.ID, false).
			Updates(map[string]any{
				"consumed":    true,
				"consumed_by": user.ID,
				"consumed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("consume license: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLicenseAlreadyConsumed
		}

		if errUpdate := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"messages_limit": gorm.Expr("messages_limit + ?", allotment),
				"plan":           plan,
			}).Error; errUpdate != nil {
			return fmt.Errorf("raise limit: %w", errUpdate)
		}

		result = RedeemResult{Plan: plan, Allotment: allotment, NewLimit: user.MessagesLimit + allotment}
		return nil
	})
	return result, errTx
}

// ResetUsage zeroes messages_used for userID.
func (l *Ledger) ResetUsage(ctx context.Context, userID uint64) (Usage, error) {
	res := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("messages_used", 0)
	if res.Error != nil {
		return Usage{}, fmt.Errorf("reset usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Usage{}, ErrUserNotFound
	}
	l.metrics.LedgerOperation("reset", metrics.OutcomeSuccess)
	return l.Usage(ctx, userID)
}

// ApplyPlan moves userID onto planName and sets the limit to its allotment.
func (l *Ledger) ApplyPlan(ctx context.Context, userID uint64, planName string) (Usage, error) {
	plan, allotment, errPlan := l.plans.Resolve(planName)
	if errPlan != nil {
		return Usage{}, errPlan
	}
	res := l.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"plan": plan, "messages_limit": allotment})
	if res.Error != nil {
		return Usage{}, fmt.Errorf("apply plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Usage{}, ErrUserNotFound
	}
	l.metrics.LedgerOperation("plan", metrics.OutcomeSuccess)
	return l.Usage(ctx, userID)
}

func (l *Ledger) loadUser(ctx context.Context, conn *gorm.DB, userID uint64) (*models.User, error) {
	if userID == 0 {
		return nil, ErrUserNotFound
	}
	var user models.User
	if errFind := conn.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", errFind)
	}
	return &user, nil
}

func usageOf(user *models.User) Usage {
	return Usage{Used: user.MessagesUsed, Limit: user.MessagesLimit, Plan: user.Plan}
}
