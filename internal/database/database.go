package database

import (
	"fmt"
	"os"

	"github.com/docdrop/backend/internal/config"
	"github.com/docdrop/backend/internal/models"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/docdrop/backend/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	// TranslateError maps driver duplicate-key failures onto
	// gorm.ErrDuplicatedKey so email uniqueness can be enforced by the
	// index rather than a racy read-then-write.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.StoredFile{},
		&models.DownloadGrant{},
		&models.AuditLog{},
	)
}

// seedAdminUser creates the administrative account on first boot so
// /admin/create-ops-user is reachable. Admin accounts are always
// pre-verified.
func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = "admin@docdrop.local"
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:         email,
		PasswordHash:  hash,
		Name:          "System Admin",
		Role:          models.UserRoleAdmin,
		EmailVerified: true,
	}

	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	logger.Info("admin_user_seeded", map[string]interface{}{
		"email": email,
	})
	return nil
}
