package db

import (
	"fmt"

	"github.com/router-for-me/chatgate/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.License{},
		&models.IPBan{},
		&models.UserIPLink{},
		&models.AdminLog{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
