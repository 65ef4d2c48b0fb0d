package models

import (
	"time"

	"gorm.io/datatypes"
)

// AdminLog is an append-only audit record of an admin mutation.
type AdminLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ActorID  uint64         `gorm:"not null;index"`                  // Acting admin user ID.
	Action   string         `gorm:"type:varchar(64);not null;index"` // Action name.
	TargetID string         `gorm:"type:text;index"`                 // Affected user, address or license.
	Reason   string         `gorm:"type:text"`                       // Operator supplied reason.
	Details  datatypes.JSON `gorm:"type:jsonb"`                      // Action specific payload.

	CreatedAt time.Time `gorm:"not null;index"` // Action timestamp.
}
