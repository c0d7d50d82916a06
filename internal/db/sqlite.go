package db

import (
	"github.com/glebarez/sqlite"
	"github.com/pysugar/gmail-relay/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite credential database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(&models.Credential{}); err != nil {
		return nil, err
	}

	return gdb, nil
}
