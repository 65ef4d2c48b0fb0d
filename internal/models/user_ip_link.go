package models

import "time"

// UserIPLink records that a user signed in from an address.
type UserIPLink struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_user_ip_links_user_ip,priority:1"`                        // Linked user ID.
	IPAddress string `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_ip_links_user_ip,priority:2;index"` // Source address.
	Email     string `gorm:"type:text"`                                                                        // Email seen at link time.

	RecordedAt time.Time `gorm:"not null"` // First sighting.
	LastUsed   time.Time `gorm:"not null"` // Most recent sighting.
}

// TableName overrides the default table name.
func (UserIPLink) TableName() string {
	return "user_ip_links"
}
