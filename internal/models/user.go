package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;uniqueIndex"` // Email address.
	Name  string `gorm:"type:text"`             // Display name.

	Plan string `gorm:"type:varchar(64);not null;default:'Free'"` // Active plan name.

	MessagesUsed  int64 `gorm:"not null;default:0"` // Completions consumed in the current allotment.
	MessagesLimit int64 `gorm:"not null;default:0"` // Completion ceiling.

	Banned      bool       `gorm:"not null;default:false;index"` // Account ban flag.
	BanReason   string     `gorm:"type:text"`                    // Reason recorded with the ban.
	BannedAt    *time.Time // Ban timestamp.
	BannedUntil *time.Time // Ban expiry; nil means permanent.

	IsAdmin bool `gorm:"not null;default:false;index"` // Grants admin endpoints.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BanActive reports whether the account ban is in force at now.
func (u *User) BanActive(now time.Time) bool {
	if u == nil || !u.Banned {
		return false
	}
	if u.BannedUntil != nil && !u.BannedUntil.After(now) {
		return false
	}
	return true
}
