package models

import "time"

// License is a single-use key that raises a user's message ceiling when redeemed.
type License struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key          string `gorm:"type:varchar(64);not null;uniqueIndex"` // Redemption key.
	Plan         string `gorm:"type:varchar(64);not null;index"`       // Plan granted on redemption.
	ValidityDays int    `gorm:"not null;default:0"`                    // Redemption window in days, 0 for none.
	IssuedBy     uint64 `gorm:"not null;index"`                        // Issuing admin user ID.

	Consumed    bool       `gorm:"not null;default:false;index"` // Redeemed or invalidated.
	Invalidated bool       `gorm:"not null;default:false"`       // Consumed by admin invalidation.
	ConsumedBy  *uint64    `gorm:"index"`                        // Redeeming user ID.
	ConsumedAt  *time.Time // Consumption timestamp.
	ExpiresAt   *time.Time `gorm:"index"` // Redemption deadline, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// Expired reports whether the redemption window has closed at now.
func (l *License) Expired(now time.Time) bool {
	return l != nil && l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Status returns the display status of the license.
func (l *License) Status(now time.Time) string {
	switch {
	case l.Invalidated:
		return "invalidated"
	case l.Consumed:
		return "consumed"
	case l.Expired(now):
		return "expired"
	default:
		return "active"
	}
}
