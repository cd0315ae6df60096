// Package downtime manages the append-only ledger of machine-down intervals
// owned by a work order. All functions take a *gorm.DB so callers can pass
// a transaction handle.
package downtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyOpen is returned when opening a log while another is still open.
	ErrAlreadyOpen = errors.New("downtime: work order already has an open log")
	// ErrNotFound is returned when a log id does not belong to the work order.
	ErrNotFound = errors.New("downtime: log not found")
	// ErrNoneOpen is returned by Close when there is nothing to close.
	ErrNoneOpen = errors.New("downtime: no open log")
)

// OpenOpts holds parameters for opening a downtime interval.
type OpenOpts struct {
	WorkOrderID uint
	MachineID   *uint
	StartedAt   time.Time
	OpenedBy    string
	Notes       string
}

// Open starts a new downtime interval for a work order.
func Open(db *gorm.DB, opts OpenOpts) (*models.DowntimeLog, error) {
	if opts.WorkOrderID == 0 {
		return nil, fmt.Errorf("downtime: work order id is required")
	}
	if opts.StartedAt.IsZero() {
		return nil, fmt.Errorf("downtime: started at is required")
	}

	open, err := FindOpen(db, opts.WorkOrderID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("%w (log %d)", ErrAlreadyOpen, open.ID)
	}

	slot := opts.WorkOrderID
	log := models.DowntimeLog{
		WorkOrderID: opts.WorkOrderID,
		MachineID:   opts.MachineID,
		StartedAt:   opts.StartedAt,
		OpenSlot:    &slot,
		OpenedBy:    opts.OpenedBy,
		Notes:       opts.Notes,
	}
	if err := db.Create(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyOpen
		}
		return nil, fmt.Errorf("downtime: open for work order %d: %w", opts.WorkOrderID, err)
	}
	return &log, nil
}

// FindOpen returns the open log of a work order, or nil when none is open.
func FindOpen(db *gorm.DB, workOrderID uint) (*models.DowntimeLog, error) {
	var logs []models.DowntimeLog
	if err := db.Where("work_order_id = ? AND ended_at IS NULL", workOrderID).
		Order("started_at DESC, id DESC").
		Limit(1).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("downtime: find open for work order %d: %w", workOrderID, err)
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return &logs[0], nil
}

// HasOpen reports whether the work order has an open interval.
func HasOpen(db *gorm.DB, workOrderID uint) (bool, error) {
	var count int64
	if err := db.Model(&models.DowntimeLog{}).
		Where("work_order_id = ? AND ended_at IS NULL", workOrderID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("downtime: count open for work order %d: %w", workOrderID, err)
	}
	return count > 0, nil
}

// Get returns a log by id, scoped to its owning work order.
func Get(db *gorm.DB, workOrderID, logID uint) (*models.DowntimeLog, error) {
	var log models.DowntimeLog
	if err := db.Where("id = ? AND work_order_id = ?", logID, workOrderID).First(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d on work order %d", ErrNotFound, logID, workOrderID)
		}
		return nil, fmt.Errorf("downtime: get %d: %w", logID, err)
	}
	return &log, nil
}

// Close ends an interval at now. With a nil logID the most recent open log
// is closed. Closing an already closed log returns it unchanged.
func Close(db *gorm.DB, workOrderID uint, logID *uint, now time.Time, closedBy string) (*models.DowntimeLog, error) {
	var log *models.DowntimeLog
	var err error
	if logID != nil {
		log, err = Get(db, workOrderID, *logID)
		if err != nil {
			return nil, err
		}
		if !log.IsOpen() {
			return log, nil
		}
	} else {
		log, err = FindOpen(db, workOrderID)
		if err != nil {
			return nil, err
		}
		if log == nil {
			return nil, ErrNoneOpen
		}
	}

	end := now
	if end.Before(log.StartedAt) {
		end = log.StartedAt
	}
	total := models.ElapsedMinutes(log.StartedAt, end)

	res := db.Model(&models.DowntimeLog{}).
		Where("id = ? AND ended_at IS NULL", log.ID).
		Updates(map[string]interface{}{
			"ended_at":      end,
			"total_minutes": total,
			"open_slot":     nil,
			"closed_by":     closedBy,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("downtime: close %d: %w", log.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return Get(db, workOrderID, log.ID)
	}

	log.EndedAt = &end
	log.TotalMinutes = &total
	log.OpenSlot = nil
	log.ClosedBy = closedBy
	return log, nil
}

// List returns every log of a work order, oldest first.
func List(db *gorm.DB, workOrderID uint) ([]models.DowntimeLog, error) {
	var logs []models.DowntimeLog
	if err := db.Where("work_order_id = ?", workOrderID).
		Order("started_at ASC, id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("downtime: list for work order %d: %w", workOrderID, err)
	}
	return logs, nil
}

// TotalMinutes sums the closed intervals of a work order.
func TotalMinutes(db *gorm.DB, workOrderID uint) (int, error) {
	var total int64
	if err := db.Model(&models.DowntimeLog{}).
		Select("COALESCE(SUM(total_minutes), 0)").
		Where("work_order_id = ? AND ended_at IS NOT NULL", workOrderID).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("downtime: total for work order %d: %w", workOrderID, err)
	}
	return int(total), nil
}
