package models

import "time"

// Setting is one runtime-editable configuration value, keyed by an
// upper-case name such as AI_CONFIG. Value holds JSON text; the column is
// text so sqlite keeps scalars like 7 as text instead of coercing them.
type Setting struct {
	Key       string    `gorm:"type:varchar(128);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}
