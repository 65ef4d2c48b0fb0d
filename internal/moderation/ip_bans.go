package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/reputation"
)

// ErrBanNotFound is returned when unbanning an address with no ban records.
var ErrBanNotFound = errors.New("ip ban not found")

// BanIP bans ipAddress for duration, or permanently when duration is zero.
func (e *Engine) BanIP(ctx context.Context, actor Actor, ipAddress, reason string, duration time.Duration) (models.IPBan, error) {
	if !validBanDuration(duration) {
		return models.IPBan{}, ErrInvalidDuration
	}
	ban, errBan := e.gate.Ban(ctx, ipAddress, reason, duration, actor.ID)
	if errBan != nil {
		return models.IPBan{}, errBan
	}
	details := map[string]any{"permanent": ban.ExpiresAt == nil}
	if ban.ExpiresAt != nil {
		details["expires_at"] = ban.ExpiresAt.Format(time.RFC3339)
	}
	e.record(ctx, actor, ActionBanIP, "ip:"+ban.IPAddress, ban.Reason, details)
	return ban, nil
}

// UnbanIP removes every ban record for ipAddress.
func (e *Engine) UnbanIP(ctx context.Context, actor Actor, ipAddress string) (int64, error) {
	addr, errAddr := reputation.NormalizeAddress(ipAddress)
	if errAddr != nil {
		return 0, errAddr
	}
	removed, errUnban := e.gate.Unban(ctx, addr)
	if errUnban != nil {
		return 0, errUnban
	}
	if removed == 0 {
		return 0, ErrBanNotFound
	}
	e.record(ctx, actor, ActionUnbanIP, "ip:"+addr, "", map[string]any{"removed": removed})
	return removed, nil
}

// ListIPBans returns ban records, optionally for one address.
func (e *Engine) ListIPBans(ctx context.Context, ipFilter string) ([]models.IPBan, error) {
	return e.gate.ListBans(ctx, ipFilter)
}
