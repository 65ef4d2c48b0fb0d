package moderation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/models"
	log "github.com/sirupsen/logrus"
)

// UserDetail is a user with the addresses it has been seen from.
type UserDetail struct {
	User  models.User         `json:"user"`
	Links []models.UserIPLink `json:"links"`
}

// GetUser returns userID with its address links.
func (e *Engine) GetUser(ctx context.Context, userID uint64) (UserDetail, error) {
	user, errLoad := e.loadUser(ctx, userID)
	if errLoad != nil {
		return UserDetail{}, errLoad
	}
	links, errLinks := e.gate.LinksForUser(ctx, userID)
	if errLinks != nil {
		return UserDetail{}, errLinks
	}
	return UserDetail{User: *user, Links: links}, nil
}

// BanUser bans userID. A zero duration bans permanently.
func (e *Engine) BanUser(ctx context.Context, actor Actor, userID uint64, reason string, duration time.Duration) (models.User, error) {
	if !validBanDuration(duration) {
		return models.User{}, ErrInvalidDuration
	}
	now := e.clock.Now()
	var until *time.Time
	if duration > 0 {
		expiry := now.Add(duration)
		until = &expiry
	}
	reason = strings.TrimSpace(reason)
	user, errUpdate := e.updateUser(ctx, userID, map[string]any{
		"banned":       true,
		"ban_reason":   reason,
		"banned_at":    now,
		"banned_until": until,
	})
	if errUpdate != nil {
		return models.User{}, errUpdate
	}

	details := map[string]any{"permanent": until == nil}
	if until != nil {
		details["until"] = until.Format(time.RFC3339)
	}
	e.record(ctx, actor, ActionBanUser, userTarget(userID), reason, details)
	return user, nil
}

// UnbanUser clears the account ban on userID.
func (e *Engine) UnbanUser(ctx context.Context, actor Actor, userID uint64) (models.User, error) {
	user, errUpdate := e.updateUser(ctx, userID, map[string]any{
		"banned":       false,
		"ban_reason":   "",
		"banned_at":    nil,
		"banned_until": nil,
	})
	if errUpdate != nil {
		return models.User{}, errUpdate
	}
	e.record(ctx, actor, ActionUnbanUser, userTarget(userID), "", nil)
	return user, nil
}

// PromoteUser grants admin rights to userID.
func (e *Engine) PromoteUser(ctx context.Context, actor Actor, userID uint64) (models.User, error) {
	user, errUpdate := e.updateUser(ctx, userID, map[string]any{"is_admin": true})
	if errUpdate != nil {
		return models.User{}, errUpdate
	}
	e.record(ctx, actor, ActionPromoteUser, userTarget(userID), "", nil)
	return user, nil
}

// DemoteUser revokes admin rights from userID. An admin may demote itself,
// including the last remaining admin.
func (e *Engine) DemoteUser(ctx context.Context, actor Actor, userID uint64) (models.User, error) {
	user, errUpdate := e.updateUser(ctx, userID, map[string]any{"is_admin": false})
	if errUpdate != nil {
		return models.User{}, errUpdate
	}
	if actor.ID == userID {
		log.WithField("user_id", userID).Warn("admin demoted itself")
	}
	e.record(ctx, actor, ActionDemoteUser, userTarget(userID), "", map[string]any{"self": actor.ID == userID})
	return user, nil
}

// ResetMessages zeroes the message count of userID.
func (e *Engine) ResetMessages(ctx context.Context, actor Actor, userID uint64) (ledger.Usage, error) {
	usage, errReset := e.ledger.ResetUsage(ctx, userID)
	if errReset != nil {
		return ledger.Usage{}, errReset
	}
	e.record(ctx, actor, ActionResetMessages, userTarget(userID), "", nil)
	return usage, nil
}

// UpdateUserPlan moves userID onto plan and resets its limit to the plan allotment.
func (e *Engine) UpdateUserPlan(ctx context.Context, actor Actor, userID uint64, plan string) (ledger.Usage, error) {
	before, errLoad := e.loadUser(ctx, userID)
	if errLoad != nil {
		return ledger.Usage{}, errLoad
	}
	usage, errPlan := e.ledger.ApplyPlan(ctx, userID, plan)
	if errPlan != nil {
		return ledger.Usage{}, errPlan
	}
	e.record(ctx, actor, ActionUpdatePlan, userTarget(userID), "", map[string]any{
		"from":  before.Plan,
		"to":    usage.Plan,
		"limit": usage.Limit,
	})
	return usage, nil
}

// DeleteUser removes userID and its address links.
func (e *Engine) DeleteUser(ctx context.Context, actor Actor, userID uint64) error {
	user, errLoad := e.loadUser(ctx, userID)
	if errLoad != nil {
		return errLoad
	}
	res := e.db.WithContext(ctx).Delete(&models.User{}, userID)
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrUserNotFound
	}
	links, errLinks := e.gate.DeleteLinksForUser(ctx, userID)
	if errLinks != nil {
		log.WithError(errLinks).WithField("user_id", userID).Warn("delete user: ip links left behind")
	}
	e.record(ctx, actor, ActionDeleteUser, userTarget(userID), "", map[string]any{
		"email": user.Email,
		"links": links,
	})
	return nil
}

func (e *Engine) updateUser(ctx context.Context, userID uint64, updates map[string]any) (models.User, error) {
	if userID == 0 {
		return models.User{}, ledger.ErrUserNotFound
	}
	res := e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return models.User{}, fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.User{}, ledger.ErrUserNotFound
	}
	user, errLoad := e.loadUser(ctx, userID)
	if errLoad != nil {
		return models.User{}, errLoad
	}
	return *user, nil
}

func userTarget(userID uint64) string {
	return "user:" + strconv.FormatUint(userID, 10)
}
