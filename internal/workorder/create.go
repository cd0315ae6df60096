package workorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/downtime"
	"github.com/zulandar/otyard/internal/metrics"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxTitle bounds work order and closure titles.
const MaxTitle = 255

// CreateOpts holds parameters for opening a new work order.
type CreateOpts struct {
	CompanyID     uint
	MachineID     *uint
	Title         string
	Description   string
	Priority      string // P1..P4 or URGENT/HIGH/MEDIUM/LOW; empty means P3
	FailureIDs    []uint
	AssignedTo    string
	ScheduledDate *time.Time
	RequiresQA    bool
}

// Create opens a work order in PENDING. Return to production is required
// when any linked, non-observation failure caused downtime or is safety
// related; a failure that caused downtime also opens a DowntimeLog starting
// at the earliest reported stop.
func (s *Service) Create(ctx context.Context, opts CreateOpts, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionCreate
	if err := requireActor(op, 0, actor); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(opts.Title)
	var fields []FieldError
	if opts.CompanyID == 0 {
		fields = append(fields, FieldError{"companyId", "is required"})
	}
	if title == "" {
		fields = append(fields, FieldError{"title", "is required"})
	} else if runeLen(title) > MaxTitle {
		fields = append(fields, FieldError{"title", fmt.Sprintf("must be at most %d characters", MaxTitle)})
	}
	priority := models.PriorityP3
	if opts.Priority != "" {
		p, err := models.ParsePriority(opts.Priority)
		if err != nil {
			fields = append(fields, FieldError{"priority", err.Error()})
		}
		priority = p
	}
	if len(fields) > 0 {
		return nil, validationError(op, 0, fields)
	}

	assignee := strings.TrimSpace(opts.AssignedTo)
	if assignee != "" {
		if err := requireCapability(op, 0, actor, CapAssign); err != nil {
			return nil, err
		}
	}

	var wo models.WorkOrder
	err := s.withRetry(ctx, op, func(wrote *bool) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			failures, err := loadFailures(tx, opts.CompanyID, opts.FailureIDs)
			if err != nil {
				return err
			}
			now := s.now()

			wo = models.WorkOrder{
				CompanyID:     opts.CompanyID,
				MachineID:     opts.MachineID,
				Title:         title,
				Description:   strings.TrimSpace(opts.Description),
				Priority:      priority,
				Status:        models.StatusPending,
				AssignedTo:    assignee,
				CreatedBy:     actor.ID,
				RequiresQA:    opts.RequiresQA,
				ScheduledDate: opts.ScheduledDate,
				CreatedAt:     now,
				UpdatedAt:     now,
				Failures:      failures,
			}
			if wo.MachineID == nil {
				for _, f := range failures {
					if f.MachineID != nil {
						wo.MachineID = f.MachineID
						break
					}
				}
			}
			downStart, causedDowntime := downtimeStart(failures, now)
			wo.RequiresReturnToProduction = requiresReturnToProduction(failures)

			*wrote = true
			if err := tx.Create(&wo).Error; err != nil {
				return fmt.Errorf("workorder: create: %w", err)
			}

			if causedDowntime {
				if _, err := downtime.Open(tx, downtime.OpenOpts{
					WorkOrderID: wo.ID,
					MachineID:   wo.MachineID,
					StartedAt:   downStart,
					OpenedBy:    actor.ID,
					Notes:       "opened from failure report",
				}); err != nil {
					return fmt.Errorf("workorder: create: %w", err)
				}
			}

			audit := models.WorkOrderTransition{
				WorkOrderID: wo.ID,
				Transition:  op,
				ToStatus:    models.StatusPending,
				Actor:       actor.ID,
				CreatedAt:   now,
			}
			if err := tx.Create(&audit).Error; err != nil {
				return fmt.Errorf("workorder: create: audit: %w", err)
			}
			return ctx.Err()
		})
	})
	if err != nil {
		s.recordFailure(op, 0, actor, err)
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(op, metrics.ResultOK).Inc()
	s.logger.Info("work order created",
		zap.Uint("work_order_id", wo.ID),
		zap.Uint("company_id", wo.CompanyID),
		zap.String("priority", string(wo.Priority)),
		zap.Bool("requires_return_to_production", wo.RequiresReturnToProduction),
		zap.String("actor", actor.ID))

	evt := notify.NewEvent(notify.EventTransition, wo.ID, s.now())
	evt.Title = wo.Title
	evt.Priority = wo.Priority
	evt.Transition = op
	evt.To = wo.Status
	evt.Actor = actor.ID
	evt.SLADue = s.slaDue(&wo)
	s.publish(ctx, evt)

	return &wo, nil
}

func loadFailures(tx *gorm.DB, companyID uint, ids []uint) ([]models.FailureOccurrence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	var failures []models.FailureOccurrence
	if err := tx.Where("id IN ? AND company_id = ?", unique, companyID).
		Order("id ASC").
		Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("workorder: create: load failures: %w", err)
	}
	if len(failures) != len(unique) {
		found := make(map[uint]bool, len(failures))
		for _, f := range failures {
			found[f.ID] = true
		}
		var missing []string
		for _, id := range unique {
			if !found[id] {
				missing = append(missing, fmt.Sprintf("%d", id))
			}
		}
		return nil, notFound(TransitionCreate, 0, "failure occurrence not found: "+strings.Join(missing, ", "))
	}
	return failures, nil
}

// requiresReturnToProduction reports whether any linked failure that is
// not a mere observation stopped the machine or is safety related.
func requiresReturnToProduction(failures []models.FailureOccurrence) bool {
	for _, f := range failures {
		if f.IsObservation {
			continue
		}
		if f.CausedDowntime || f.IsSafetyRelated {
			return true
		}
	}
	return false
}

// downtimeStart returns the earliest stop among failures that caused
// downtime, falling back to now, and whether any did.
func downtimeStart(failures []models.FailureOccurrence, now time.Time) (time.Time, bool) {
	var (
		start time.Time
		found bool
	)
	for _, f := range failures {
		if f.IsObservation || !f.CausedDowntime {
			continue
		}
		at := now
		if f.DowntimeStartedAt != nil && !f.DowntimeStartedAt.After(now) {
			at = *f.DowntimeStartedAt
		}
		if !found || at.Before(start) {
			start = at
		}
		found = true
	}
	return start, found
}

func runeLen(s string) int {
	return len([]rune(s))
}
