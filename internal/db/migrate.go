package db

import (
	"fmt"

	"github.com/lifelinehq/lifeline/internal/models"
	"gorm.io/gorm"
)

// ActiveModels returns the models migrated into the local authoritative store.
func ActiveModels() []interface{} {
	return []interface{}{
		&models.Incident{},
		&models.Message{},
		&models.Worker{},
		&models.Supervisor{},
	}
}

// HistoryModels returns the models migrated into the historical store.
func HistoryModels() []interface{} {
	return []interface{}{
		&models.HistoricalIncident{},
		&models.HistoricalMessage{},
	}
}

// MigrateActive creates or updates the local store tables.
func MigrateActive(db *gorm.DB) error {
	if err := db.AutoMigrate(ActiveModels()...); err != nil {
		return fmt.Errorf("db: migrate active: %w", err)
	}
	return nil
}

// MigrateHistory creates or updates the historical store tables.
func MigrateHistory(db *gorm.DB) error {
	if err := db.AutoMigrate(HistoryModels()...); err != nil {
		return fmt.Errorf("db: migrate history: %w", err)
	}
	return nil
}
