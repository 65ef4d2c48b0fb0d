// Package moderation implements privileged operations on accounts, addresses
// and licenses. Every mutation is performed on behalf of an authorized Actor
// and leaves an admin log entry.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/metrics"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/reputation"
	"github.com/router-for-me/chatgate/internal/security"
	"github.com/router-for-me/chatgate/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrUnauthorized is returned for every authorization failure, whatever the cause.
var ErrUnauthorized = errors.New("unauthorized")

// Validation errors.
var (
	ErrInvalidDuration = fmt.Errorf("ban duration must be between 0 and %d days", MaxBanDays)
	ErrInvalidValidity = fmt.Errorf("validity days must be between 0 and %d", MaxValidityDays)
	ErrInvalidFilter   = errors.New("invalid filter")
)

const (
	// MaxValidityDays bounds the redemption window of a new license.
	MaxValidityDays = 3650
	// MaxBanDays bounds a timed ban; longer bans should be permanent.
	MaxBanDays = 3650
)

func validBanDuration(d time.Duration) bool {
	return d >= 0 && d <= time.Duration(MaxBanDays)*24*time.Hour
}

// Admin log action names.
const (
	ActionBanUser           = "ban_user"
	ActionUnbanUser         = "unban_user"
	ActionPromoteUser       = "promote_user"
	ActionDemoteUser        = "demote_user"
	ActionResetMessages     = "reset_messages"
	ActionUpdatePlan        = "update_plan"
	ActionDeleteUser        = "delete_user"
	ActionBanIP             = "ban_ip"
	ActionUnbanIP           = "unban_ip"
	ActionCreateLicense     = "create_license"
	ActionInvalidateLicense = "invalidate_license"
	ActionPurgeLicenses     = "purge_licenses"
	ActionPurgeLogs         = "purge_logs"
	ActionUpdateAIConfig    = "update_ai_config"
)

// Actor is an authorized administrator.
type Actor struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
}

// Options configures an Engine.
type Options struct {
	DB       *gorm.DB
	Ledger   *ledger.Ledger
	Gate     *reputation.Gate
	Plans    *plans.Catalog
	Verifier security.Verifier
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	// AuditTimeout bounds each admin log write. Defaults to 5s.
	AuditTimeout time.Duration
}

// Engine runs admin operations.
type Engine struct {
	db           *gorm.DB
	ledger       *ledger.Ledger
	gate         *reputation.Gate
	plans        *plans.Catalog
	verifier     security.Verifier
	clock        clock.Clock
	metrics      *metrics.Metrics
	auditTimeout time.Duration
}

// NewEngine constructs an Engine.
func NewEngine(opts Options) *Engine {
	catalog := opts.Plans
	if catalog == nil {
		catalog = plans.Default()
	}
	auditTimeout := opts.AuditTimeout
	if auditTimeout <= 0 {
		auditTimeout = 5 * time.Second
	}
	return &Engine{
		db:           opts.DB,
		ledger:       opts.Ledger,
		gate:         opts.Gate,
		plans:        catalog,
		verifier:     opts.Verifier,
		clock:        clock.OrSystem(opts.Clock),
		metrics:      opts.Metrics,
		auditTimeout: auditTimeout,
	}
}

// Authorize resolves token to an administrator. Invalid credentials, unknown
// accounts, banned accounts and non-admin accounts all yield ErrUnauthorized.
func (e *Engine) Authorize(ctx context.Context, token string) (Actor, error) {
	if e.verifier == nil {
		return Actor{}, ErrUnauthorized
	}
	identity, errVerify := e.verifier.Verify(ctx, token)
	if errVerify != nil {
		log.WithError(errVerify).Debug("admin authorization: credential rejected")
		return Actor{}, ErrUnauthorized
	}

	var user models.User
	if errFind := e.db.WithContext(ctx).First(&user, identity.SubjectID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Actor{}, ErrUnauthorized
		}
		return Actor{}, fmt.Errorf("load admin: %w", errFind)
	}
	if !user.IsAdmin || user.BanActive(e.clock.Now()) {
		log.WithFields(log.Fields{"user_id": user.ID, "email": util.MaskEmail(user.Email)}).Warn("admin authorization: account lacks privilege")
		return Actor{}, ErrUnauthorized
	}
	return Actor{ID: user.ID, Email: user.Email}, nil
}

func (e *Engine) loadUser(ctx context.Context, userID uint64) (*models.User, error) {
	if userID == 0 {
		return nil, ledger.ErrUserNotFound
	}
	var user models.User
	if errFind := e.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", errFind)
	}
	return &user, nil
}
