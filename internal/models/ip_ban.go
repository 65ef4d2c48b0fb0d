package models

import "time"

// IPBan blocks a network address until ExpiresAt, or permanently when nil.
type IPBan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IPAddress string     `gorm:"type:varchar(64);not null;index"` // Banned address.
	Reason    string     `gorm:"type:text"`                       // Ban reason.
	BannedBy  uint64     `gorm:"not null;default:0"`              // Issuing admin user ID.
	BannedAt  time.Time  `gorm:"not null"`                        // Ban timestamp.
	ExpiresAt *time.Time `gorm:"index"`                           // Expiry; nil means permanent.
}

// TableName overrides the default table name.
func (IPBan) TableName() string {
	return "ip_bans"
}

// Expired reports whether the ban has lapsed at now.
func (b *IPBan) Expired(now time.Time) bool {
	return b != nil && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}
