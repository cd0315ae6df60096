package workorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/downtime"
	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

// ConfirmInput holds the optional fields of a return-to-production
// confirmation. A nil DowntimeLogID targets the open log, if any.
type ConfirmInput struct {
	DowntimeLogID *uint
	Notes         string
}

// ConfirmReturnToProduction records that the machine is running again. It
// closes the open downtime log and sets the confirmation flag. Status is
// unchanged. With no open log and no confirmation pending it does nothing.
func (s *Service) ConfirmReturnToProduction(ctx context.Context, id uint, in ConfirmInput, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionConfirmRTP
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(in.Notes)
	if runeLen(notes) > MaxNotes {
		return nil, validationError(op, id, []FieldError{{"notes", fmt.Sprintf("must be at most %d characters", MaxNotes)}})
	}

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		var target *models.DowntimeLog
		if in.DowntimeLogID != nil {
			log, err := downtime.Get(tx, id, *in.DowntimeLogID)
			if errors.Is(err, downtime.ErrNotFound) {
				return nil, notFound(op, id, fmt.Sprintf("downtime log %d not found on this work order", *in.DowntimeLogID))
			}
			if err != nil {
				return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
			}
			if log.IsOpen() {
				target = log
			}
		}
		if target == nil {
			open, err := downtime.FindOpen(tx, id)
			if err != nil {
				return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
			}
			target = open
		}

		pending := wo.RequiresReturnToProduction && !wo.ReturnToProductionConfirmed
		if target == nil && !pending {
			return &change{noop: true}, nil
		}

		note := "confirmed"
		if target != nil {
			closed, err := downtime.Close(tx, id, &target.ID, now, actor.ID)
			if err != nil {
				return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
			}
			note = fmt.Sprintf("downtime log %d closed after %d min", closed.ID, *closed.TotalMinutes)
		}

		updates := map[string]interface{}{
			"return_to_production_confirmed":    true,
			"return_to_production_confirmed_at": now,
			"return_to_production_confirmed_by": actor.ID,
		}
		if notes != "" {
			updates["return_to_production_notes"] = notes
		}
		return &change{to: wo.Status, updates: updates, note: note}, nil
	})
}

// OpenDowntimeInput holds the fields for reporting the machine down again.
// A nil StartedAt means now.
type OpenDowntimeInput struct {
	StartedAt *time.Time
	Notes     string
}

// OpenDowntime starts a downtime interval on an open work order. Any
// earlier confirmation is reset since the machine is down again.
func (s *Service) OpenDowntime(ctx context.Context, id uint, in OpenDowntimeInput, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionOpenDowntime
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(in.Notes)
	var fields []FieldError
	if in.StartedAt != nil && in.StartedAt.After(s.now()) {
		fields = append(fields, FieldError{"startedAt", "must not be in the future"})
	}
	if runeLen(notes) > MaxNotes {
		fields = append(fields, FieldError{"notes", fmt.Sprintf("must be at most %d characters", MaxNotes)})
	}
	if len(fields) > 0 {
		return nil, validationError(op, id, fields)
	}

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status.IsTerminal() {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("cannot open downtime on a %s work order", wo.Status))
		}
		open, err := downtime.FindOpen(tx, id)
		if err != nil {
			return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
		}
		if open != nil {
			e := invalidState(op, id, wo.Status, fmt.Sprintf("downtime log %d is still open", open.ID))
			e.Reason = ReasonDowntimeOpen
			e.DowntimeLogID = &open.ID
			return nil, e
		}

		start := now
		if in.StartedAt != nil {
			start = in.StartedAt.UTC()
		}
		log, err := downtime.Open(tx, downtime.OpenOpts{
			WorkOrderID: id,
			MachineID:   wo.MachineID,
			StartedAt:   start,
			OpenedBy:    actor.ID,
			Notes:       notes,
		})
		if errors.Is(err, downtime.ErrAlreadyOpen) {
			e := invalidState(op, id, wo.Status, "a downtime log is already open")
			e.Reason = ReasonDowntimeOpen
			return nil, e
		}
		if err != nil {
			return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
		}

		return &change{
			to: wo.Status,
			updates: map[string]interface{}{
				"requires_return_to_production":     true,
				"return_to_production_confirmed":    false,
				"return_to_production_confirmed_at": nil,
				"return_to_production_confirmed_by": "",
			},
			note: fmt.Sprintf("downtime log %d opened", log.ID),
		}, nil
	})
}

// rtpBlocker reports why a work order cannot close yet, or nil. Open
// downtime is reported first since it needs its own remediation.
func rtpBlocker(tx *gorm.DB, op string, wo *models.WorkOrder) (*Error, error) {
	if !wo.RequiresReturnToProduction {
		return nil, nil
	}
	open, err := downtime.FindOpen(tx, wo.ID)
	if err != nil {
		return nil, fmt.Errorf("workorder: %s %d: %w", op, wo.ID, err)
	}
	if open != nil {
		return &Error{
			Op:            op,
			ID:            wo.ID,
			Kind:          KindReturnToProductionRequired,
			Reason:        ReasonOpenDowntime,
			Status:        wo.Status,
			Msg:           fmt.Sprintf("downtime log %d is still open", open.ID),
			DowntimeLogID: &open.ID,
		}, nil
	}
	if !wo.ReturnToProductionConfirmed {
		return &Error{
			Op:     op,
			ID:     wo.ID,
			Kind:   KindReturnToProductionRequired,
			Reason: ReasonNotConfirmed,
			Status: wo.Status,
			Msg:    "return to production has not been confirmed",
		}, nil
	}
	return nil, nil
}
