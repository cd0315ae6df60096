// Package failure records fault reports raised from the shop floor. Work
// orders link to them at intake and read their flags.
package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a report does not exist in the company.
	ErrNotFound = errors.New("failure: not found")
	// ErrInvalid wraps every validation failure returned by Report.
	ErrInvalid = errors.New("failure: invalid report")
)

// ReportOpts holds parameters for a new fault report.
type ReportOpts struct {
	CompanyID         uint
	MachineID         *uint
	ComponentID       *uint
	Title             string
	Description       string
	CausedDowntime    bool
	IsSafetyRelated   bool
	IsObservation     bool
	DowntimeStartedAt *time.Time
	ReportedBy        string
	ReportedAt        time.Time // defaults to now
}

// ListFilters holds optional filters for listing reports.
type ListFilters struct {
	MachineID      *uint
	CausedDowntime *bool
	Limit          int
}

// Report stores a fault report.
func Report(db *gorm.DB, opts ReportOpts) (*models.FailureOccurrence, error) {
	title := strings.TrimSpace(opts.Title)
	if opts.CompanyID == 0 {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalid)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len([]rune(title)) > 255 {
		return nil, fmt.Errorf("%w: title exceeds 255 characters", ErrInvalid)
	}
	if strings.TrimSpace(opts.ReportedBy) == "" {
		return nil, fmt.Errorf("%w: reported by is required", ErrInvalid)
	}
	if opts.ReportedAt.IsZero() {
		opts.ReportedAt = time.Now().UTC()
	}
	if opts.DowntimeStartedAt != nil {
		if !opts.CausedDowntime {
			return nil, fmt.Errorf("%w: downtime start given but the failure did not cause downtime", ErrInvalid)
		}
		if opts.DowntimeStartedAt.After(opts.ReportedAt) {
			return nil, fmt.Errorf("%w: downtime cannot start after the report", ErrInvalid)
		}
	}

	f := models.FailureOccurrence{
		CompanyID:         opts.CompanyID,
		MachineID:         opts.MachineID,
		ComponentID:       opts.ComponentID,
		Title:             title,
		Description:       strings.TrimSpace(opts.Description),
		CausedDowntime:    opts.CausedDowntime,
		IsSafetyRelated:   opts.IsSafetyRelated,
		IsObservation:     opts.IsObservation,
		DowntimeStartedAt: opts.DowntimeStartedAt,
		ReportedBy:        strings.TrimSpace(opts.ReportedBy),
		ReportedAt:        opts.ReportedAt,
	}
	if err := db.Create(&f).Error; err != nil {
		return nil, fmt.Errorf("failure: report: %w", err)
	}
	return &f, nil
}

// Get retrieves a report within a company.
func Get(db *gorm.DB, companyID, id uint) (*models.FailureOccurrence, error) {
	var f models.FailureOccurrence
	if err := db.Where("id = ? AND company_id = ?", id, companyID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failure: get %d: %w", id, err)
	}
	return &f, nil
}

// List returns a company's reports, newest first.
func List(db *gorm.DB, companyID uint, filters ListFilters) ([]models.FailureOccurrence, error) {
	q := db.Where("company_id = ?", companyID)
	if filters.MachineID != nil {
		q = q.Where("machine_id = ?", *filters.MachineID)
	}
	if filters.CausedDowntime != nil {
		q = q.Where("caused_downtime = ?", *filters.CausedDowntime)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}
	var out []models.FailureOccurrence
	if err := q.Order("reported_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failure: list: %w", err)
	}
	return out, nil
}
