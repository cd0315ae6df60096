// Package worklog records timed activity entries against a work order.
// Entries are append-only.
package worklog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

// ErrInvalid wraps every validation failure returned by Add.
var ErrInvalid = errors.New("worklog: invalid entry")

// MaxDescription bounds the free-text description of an entry.
const MaxDescription = 2000

// AddOpts holds parameters for appending a work log entry.
type AddOpts struct {
	WorkOrderID   uint
	ActivityType  models.ActivityType
	Description   string
	PerformedBy   string
	StartedAt     time.Time
	EndedAt       *time.Time
	ActualMinutes *int
}

// Validate checks an entry before it is written.
func (o AddOpts) Validate() error {
	var problems []string
	if o.WorkOrderID == 0 {
		problems = append(problems, "work order id is required")
	}
	if _, err := models.ParseActivityType(string(o.ActivityType)); err != nil {
		problems = append(problems, fmt.Sprintf("activity type %q is not valid", o.ActivityType))
	}
	if strings.TrimSpace(o.PerformedBy) == "" {
		problems = append(problems, "performed by is required")
	}
	if o.StartedAt.IsZero() {
		problems = append(problems, "started at is required")
	}
	if o.EndedAt != nil && o.EndedAt.Before(o.StartedAt) {
		problems = append(problems, "ended at must not be before started at")
	}
	if o.ActualMinutes != nil && *o.ActualMinutes <= 0 {
		problems = append(problems, "actual minutes must be positive")
	}
	if len([]rune(o.Description)) > MaxDescription {
		problems = append(problems, fmt.Sprintf("description exceeds %d characters", MaxDescription))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Add appends an entry. When ActualMinutes is omitted and EndedAt is set,
// the minutes are derived from the interval.
func Add(db *gorm.DB, opts AddOpts) (*models.WorkLog, error) {
	if opts.ActivityType != "" {
		if at, err := models.ParseActivityType(string(opts.ActivityType)); err == nil {
			opts.ActivityType = at
		}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	minutes := opts.ActualMinutes
	if minutes == nil && opts.EndedAt != nil {
		if m := models.ElapsedMinutes(opts.StartedAt, *opts.EndedAt); m > 0 {
			minutes = &m
		}
	}

	entry := models.WorkLog{
		WorkOrderID:   opts.WorkOrderID,
		ActivityType:  opts.ActivityType,
		Description:   strings.TrimSpace(opts.Description),
		PerformedBy:   strings.TrimSpace(opts.PerformedBy),
		StartedAt:     opts.StartedAt,
		EndedAt:       opts.EndedAt,
		ActualMinutes: minutes,
	}
	if err := db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("worklog: add to work order %d: %w", opts.WorkOrderID, err)
	}
	return &entry, nil
}

// List returns a work order's entries in chronological order.
func List(db *gorm.DB, workOrderID uint) ([]models.WorkLog, error) {
	var entries []models.WorkLog
	if err := db.Where("work_order_id = ?", workOrderID).
		Order("started_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("worklog: list for work order %d: %w", workOrderID, err)
	}
	return entries, nil
}

// TotalMinutes sums the recorded minutes of a work order.
func TotalMinutes(db *gorm.DB, workOrderID uint) (int, error) {
	var total int64
	if err := db.Model(&models.WorkLog{}).
		Select("COALESCE(SUM(actual_minutes), 0)").
		Where("work_order_id = ?", workOrderID).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("worklog: total for work order %d: %w", workOrderID, err)
	}
	return int(total), nil
}

// ByActivity sums recorded minutes per activity type.
func ByActivity(db *gorm.DB, workOrderID uint) (map[models.ActivityType]int, error) {
	var rows []struct {
		ActivityType models.ActivityType
		Minutes      int
	}
	if err := db.Model(&models.WorkLog{}).
		Select("activity_type, COALESCE(SUM(actual_minutes), 0) AS minutes").
		Where("work_order_id = ?", workOrderID).
		Group("activity_type").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("worklog: totals by activity for work order %d: %w", workOrderID, err)
	}
	out := make(map[models.ActivityType]int, len(rows))
	for _, r := range rows {
		out[r.ActivityType] = r.Minutes
	}
	return out, nil
}
