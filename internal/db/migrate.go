package db

import (
	"fmt"

	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model owned by the service, for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.FailureOccurrence{},
		&models.WorkOrder{},
		&models.WorkOrderWatcher{},
		&models.WorkOrderTransition{},
		&models.DowntimeLog{},
		&models.WorkLog{},
	}
}

// AutoMigrate creates or updates all tables, then rewrites legacy
// priority and status spellings to their canonical form.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	if _, err := NormalizeLegacy(db); err != nil {
		return err
	}
	return nil
}

// NormalizeLegacy rewrites work orders stored with URGENT/HIGH/MEDIUM/LOW
// priorities or lowercase and aliased statuses. It returns the number of
// rows touched.
func NormalizeLegacy(db *gorm.DB) (int64, error) {
	var total int64
	for _, p := range models.Priorities {
		res := db.Exec("UPDATE work_orders SET priority = ? WHERE priority IN ? AND priority <> ?",
			string(p), models.PrioritySpellings(p), string(p))
		if res.Error != nil {
			return total, fmt.Errorf("db: normalize priority %s: %w", p, res.Error)
		}
		total += res.RowsAffected
	}
	for _, st := range models.AllStatuses {
		res := db.Exec("UPDATE work_orders SET status = ? WHERE status IN ? AND status <> ?",
			string(st), models.StatusSpellings(st), string(st))
		if res.Error != nil {
			return total, fmt.Errorf("db: normalize status %s: %w", st, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}
