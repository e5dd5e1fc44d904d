package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(practice.Models()...)
}
