package database

import (
	"gorm.io/gorm"

	"github.com/orderdesk/orderdesk/internal/models"
)

// AutoMigrate creates or updates the schema for every model this service owns.
// The recovery session records are deliberately absent: they live in the
// ephemeral session store, never in the durable database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.PasswordResetToken{},
		&models.RecoveryEvent{},
		&models.CacheEntry{},
	)
}
