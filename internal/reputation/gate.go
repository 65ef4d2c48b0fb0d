// Package reputation decides whether a network address may proceed: ban
// lookups with lazy expiry, and the per-address account cap.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/metrics"
	"github.com/router-for-me/chatgate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account cap bounds accepted by CheckAccountCap.
const (
	MinAccountsPerIP = 1
	MaxAccountsPerIP = 10
)

// Validation errors.
var (
	ErrInvalidAddress     = errors.New("invalid ip address")
	ErrInvalidMaxAccounts = fmt.Errorf("max accounts must be between %d and %d", MinAccountsPerIP, MaxAccountsPerIP)
	ErrInvalidUser        = errors.New("user id is required")
)

// BanStatus is the result of a ban lookup.
type BanStatus struct {
	Banned    bool       `json:"banned"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CapStatus is the result of an account cap check.
type CapStatus struct {
	Exceeded bool  `json:"exceeded"`
	Count    int64 `json:"count"`
	Max      int   `json:"max"`
}

// Gate checks network addresses against bans and account caps.
type Gate struct {
	db      *gorm.DB
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewGate constructs a Gate.
func NewGate(db *gorm.DB, clk clock.Clock, m *metrics.Metrics) *Gate {
	return &Gate{db: db, clock: clock.OrSystem(clk), metrics: m}
}

// NormalizeAddress parses raw as an IPv4 or IPv6 address and returns its canonical form.
func NormalizeAddress(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidAddress
	}
	return addr.Unmap().WithZone("").String(), nil
}

// CheckBan reports whether ipAddress is banned. Expired bans found on the way
// are deleted. When the store cannot be read the address is reported as not
// banned.
func (g *Gate) CheckBan(ctx context.Context, ipAddress string) BanStatus {
	addr, errAddr := NormalizeAddress(ipAddress)
	if errAddr != nil {
		log.WithField("ip", ipAddress).Debug("ban check skipped for unparsable address")
		return BanStatus{}
	}

	var bans []models.IPBan
	if errFind := g.db.WithContext(ctx).
		Where("ip_address = ?", addr).
		Order("banned_at DESC").
		Find(&bans).Error; errFind != nil {
		log.WithError(errFind).WithField("ip", addr).Warn("ban lookup failed, failing open")
		g.metrics.GateDecision("ip_ban", metrics.OutcomeFailOpen)
		return BanStatus{}
	}

	now := g.clock.Now()
	var (
		active  *models.IPBan
		expired []uint64
	)
	for i := range bans {
		ban := &bans[i]
		if ban.Expired(now) {
			expired = append(expired, ban.ID)
			continue
		}
		if active == nil || outlasts(ban, active) {
			active = ban
		}
	}

	if len(expired) > 0 {
		if errDelete := g.db.WithContext(ctx).Where("id IN ?", expired).Delete(&models.IPBan{}).Error; errDelete != nil {
			log.WithError(errDelete).WithField("ip", addr).Warn("failed to delete expired ip bans")
		} else {
			log.WithFields(log.Fields{"ip": addr, "count": len(expired)}).Info("expired ip bans removed")
		}
	}

	if active == nil {
		g.metrics.GateDecision("ip_ban", metrics.OutcomeAllowed)
		return BanStatus{}
	}
	g.metrics.GateDecision("ip_ban", metrics.OutcomeDenied)
	return BanStatus{Banned: true, Reason: active.Reason, ExpiresAt: active.ExpiresAt}
}

// outlasts reports whether a stays in force longer than b.
func outlasts(a, b *models.IPBan) bool {
	if a.ExpiresAt == nil {
		return b.ExpiresAt != nil
	}
	return b.ExpiresAt != nil && a.ExpiresAt.After(*b.ExpiresAt)
}

// CheckAccountCap counts distinct users linked to ipAddress and compares the
// count to maxAccounts.
func (g *Gate) CheckAccountCap(ctx context.Context, ipAddress string, maxAccounts int) (CapStatus, error) {
	if maxAccounts < MinAccountsPerIP || maxAccounts > MaxAccountsPerIP {
		return CapStatus{}, ErrInvalidMaxAccounts
	}
	addr, errAddr := NormalizeAddress(ipAddress)
	if errAddr != nil {
		return CapStatus{}, errAddr
	}

	var count int64
	if errCount := g.db.WithContext(ctx).
		Model(&models.UserIPLink{}).
		Where("ip_address = ?", addr).
		Distinct("user_id").
		Count(&count).Error; errCount != nil {
		return CapStatus{}, fmt.Errorf("count ip links: %w", errCount)
	}

	exceeded := count >= int64(maxAccounts)
	if exceeded {
		g.metrics.GateDecision("account_cap", metrics.OutcomeDenied)
	} else {
		g.metrics.GateDecision("account_cap", metrics.OutcomeAllowed)
	}
	return CapStatus{Exceeded: exceeded, Count: count, Max: maxAccounts}, nil
}

// RecordLink creates the link for (userID, ipAddress) or refreshes its
// lastUsed, storing email when given.
func (g *Gate) RecordLink(ctx context.Context, userID uint64, ipAddress, email string) error {
	if userID == 0 {
		return ErrInvalidUser
	}
	addr, errAddr := NormalizeAddress(ipAddress)
	if errAddr != nil {
		return errAddr
	}

	now := g.clock.Now()
	email = strings.TrimSpace(email)
	link := models.UserIPLink{
		UserID:     userID,
		IPAddress:  addr,
		Email:      email,
		RecordedAt: now,
		LastUsed:   now,
	}
	updates := []string{"last_used"}
	if email != "" {
		updates = append(updates, "email")
	}
	if errUpsert := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&link).Error; errUpsert != nil {
		return fmt.Errorf("upsert ip link: %w", errUpsert)
	}
	return nil
}

// TouchLink refreshes lastUsed for (userID, ipAddress), creating the link when absent.
func (g *Gate) TouchLink(ctx context.Context, userID uint64, ipAddress string) error {
	return g.RecordLink(ctx, userID, ipAddress, "")
}

// DeleteLinksForUser removes every link of userID.
func (g *Gate) DeleteLinksForUser(ctx context.Context, userID uint64) (int64, error) {
	res := g.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserIPLink{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete ip links: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ban stores a ban for ipAddress. A non-positive duration bans permanently.
func (g *Gate) Ban(ctx context.Context, ipAddress, reason string, duration time.Duration, bannedBy uint64) (models.IPBan, error) {
	addr, errAddr := NormalizeAddress(ipAddress)
	if errAddr != nil {
		return models.IPBan{}, errAddr
	}
	now := g.clock.Now()
	ban := models.IPBan{
		IPAddress: addr,
		Reason:    strings.TrimSpace(reason),
		BannedBy:  bannedBy,
		BannedAt:  now,
	}
	if duration > 0 {
		expiresAt := now.Add(duration)
		ban.ExpiresAt = &expiresAt
	}
	if errCreate := g.db.WithContext(ctx).Create(&ban).Error; errCreate != nil {
		return models.IPBan{}, fmt.Errorf("create ip ban: %w", errCreate)
	}
	return ban, nil
}

// Unban deletes every ban record for ipAddress and returns how many were removed.
func (g *Gate) Unban(ctx context.Context, ipAddress string) (int64, error) {
	addr, errAddr := NormalizeAddress(ipAddress)
	if errAddr != nil {
		return 0, errAddr
	}
	res := g.db.WithContext(ctx).Where("ip_address = ?", addr).Delete(&models.IPBan{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete ip bans: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListBans returns ban records, newest first. Expired records are included
// until a lookup removes them.
func (g *Gate) ListBans(ctx context.Context, ipFilter string) ([]models.IPBan, error) {
	q := g.db.WithContext(ctx).Model(&models.IPBan{})
	if trimmed := strings.TrimSpace(ipFilter); trimmed != "" {
		addr, errAddr := NormalizeAddress(trimmed)
		if errAddr != nil {
			return nil, errAddr
		}
		q = q.Where("ip_address = ?", addr)
	}
	var rows []models.IPBan
	if errFind := q.Order("banned_at DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("list ip bans: %w", errFind)
	}
	return rows, nil
}

// CountActiveBans counts bans in force at the gate's current time.
func (g *Gate) CountActiveBans(ctx context.Context) (int64, error) {
	var count int64
	if errCount := g.db.WithContext(ctx).
		Model(&models.IPBan{}).
		Where("expires_at IS NULL OR expires_at > ?", g.clock.Now()).
		Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("count ip bans: %w", errCount)
	}
	return count, nil
}

// LinksForUser returns the addresses userID has been seen from, most recent first.
func (g *Gate) LinksForUser(ctx context.Context, userID uint64) ([]models.UserIPLink, error) {
	var links []models.UserIPLink
	if errFind := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used DESC").
		Find(&links).Error; errFind != nil {
		return nil, fmt.Errorf("list ip links: %w", errFind)
	}
	return links, nil
}
