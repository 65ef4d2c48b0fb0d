package moderation

import (
	"context"
	"fmt"

	"github.com/router-for-me/chatgate/internal/models"
)

// Stats aggregates counts across the gate's records.
type Stats struct {
	Users          int64            `json:"users"`
	BannedUsers    int64            `json:"banned_users"`
	Admins         int64            `json:"admins"`
	UsersByPlan    map[string]int64 `json:"users_by_plan"`
	MessagesUsed   int64            `json:"messages_used"`
	Licenses       int64            `json:"licenses"`
	ActiveLicenses int64            `json:"active_licenses"`
	ActiveIPBans   int64            `json:"active_ip_bans"`
	AdminLogs      int64            `json:"admin_logs"`
}

// GetSystemStats computes Stats at the engine's current time.
func (e *Engine) GetSystemStats(ctx context.Context) (Stats, error) {
	now := e.clock.Now()
	conn := e.db.WithContext(ctx)
	stats := Stats{UsersByPlan: map[string]int64{}}

	counts := []struct {
		name  string
		model any
		where string
		args  []any
		dest  *int64
	}{
		{name: "users", model: &models.User{}, dest: &stats.Users},
		{name: "banned users", model: &models.User{}, where: "banned = ? AND (banned_until IS NULL OR banned_until > ?)", args: []any{true, now}, dest: &stats.BannedUsers},
		{name: "admins", model: &models.User{}, where: "is_admin = ?", args: []any{true}, dest: &stats.Admins},
		{name: "licenses", model: &models.License{}, dest: &stats.Licenses},
		{name: "active licenses", model: &models.License{}, where: "consumed = ? AND (expires_at IS NULL OR expires_at > ?)", args: []any{false, now}, dest: &stats.ActiveLicenses},
		{name: "admin logs", model: &models.AdminLog{}, dest: &stats.AdminLogs},
	}
	for _, c := range counts {
		q := conn.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if errCount := q.Count(c.dest).Error; errCount != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.name, errCount)
		}
	}

	activeBans, errBans := e.gate.CountActiveBans(ctx)
	if errBans != nil {
		return Stats{}, errBans
	}
	stats.ActiveIPBans = activeBans

	if errSum := conn.Model(&models.User{}).Select("COALESCE(SUM(messages_used), 0)").Scan(&stats.MessagesUsed).Error; errSum != nil {
		return Stats{}, fmt.Errorf("sum messages used: %w", errSum)
	}

	var planRows []struct {
		Plan  string
		Total int64
	}
	if errGroup := conn.Model(&models.User{}).Select("plan, COUNT(*) AS total").Group("plan").Scan(&planRows).Error; errGroup != nil {
		return Stats{}, fmt.Errorf("count users by plan: %w", errGroup)
	}
	for _, row := range planRows {
		stats.UsersByPlan[row.Plan] = row.Total
	}
	return stats, nil
}
