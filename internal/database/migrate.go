package database

import (
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"

	"gorm.io/gorm"
)

// Migrate creates the single record table every projection lives in.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&storage.RecordRow{})
}
