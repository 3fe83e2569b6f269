package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/config"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/pkg/utils"
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

// Migrate runs AutoMigrate and layers on the partial unique indexes that
// guard the active-code namespaces. The index SQL is kept to the subset
// valid on both postgres and sqlite so tests share it.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Child{},
		&models.ChildParent{},
		&models.ChildInvite{},
	); err != nil {
		return err
	}

	indexes := []string{
		// One active code per value: a pending invite's code must not
		// collide with another pending invite's.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_child_invites_active_code
ON child_invites (share_code) WHERE status = 'pending'`,
		// At most one pending invite per (child, invitee email).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_child_invites_pending_target
ON child_invites (child_id, invitee_email) WHERE status = 'pending' AND invitee_email IS NOT NULL`,
	}

	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@carelink.local",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Role:         models.UserRoleAdmin,
	}

	return db.Create(&admin).Error
}
