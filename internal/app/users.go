package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/config"
	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/security"
	"gorm.io/gorm"
)

// CreateUserParams holds inputs for operator-side account creation.
type CreateUserParams struct {
	Email string
	Name  string
	Plan  string
	Admin bool
}

// CreateUser inserts an account with the plan's allotment as its limit.
func CreateUser(ctx context.Context, appCfg config.AppConfig, params CreateUserParams) (models.User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	cfg, conn, err := openMigrated(appCfg)
	if err != nil {
		return models.User{}, err
	}
	defer closeDatabase(conn)

	plan, allotment, err := plans.NewCatalog(cfg.Plans).Resolve(params.Plan)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		Email:         email,
		Name:          strings.TrimSpace(params.Name),
		Plan:          plan,
		MessagesLimit: allotment,
		IsAdmin:       params.Admin,
	}
	if errCreate := conn.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return models.User{}, fmt.Errorf("user %s already exists", email)
		}
		return models.User{}, fmt.Errorf("create user: %w", errCreate)
	}
	return user, nil
}

// PromoteUser grants the admin role. It bootstraps the first administrator,
// so it bypasses the audited moderation path.
func PromoteUser(ctx context.Context, appCfg config.AppConfig, userID uint64) error {
	_, conn, err := openMigrated(appCfg)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)

	res := conn.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_admin", true)
	if res.Error != nil {
		return fmt.Errorf("promote user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

// IssueToken signs a bearer token for an existing user.
func IssueToken(ctx context.Context, appCfg config.AppConfig, userID uint64) (string, error) {
	cfg, conn, err := openMigrated(appCfg)
	if err != nil {
		return "", err
	}
	defer closeDatabase(conn)
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return "", config.ErrMissingJWTSecret
	}

	var user models.User
	if errFind := conn.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("user %d not found", userID)
		}
		return "", fmt.Errorf("load user: %w", errFind)
	}
	return security.GenerateToken(cfg.JWT.Secret, user.ID, user.Email, clock.System{}.Now(), cfg.JWT.Expiry)
}

func openMigrated(appCfg config.AppConfig) (config.Config, *gorm.DB, error) {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		closeDatabase(conn)
		return config.Config{}, nil, errMigrate
	}
	return cfg, conn, nil
}
