package workorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/downtime"
	"github.com/zulandar/otyard/internal/models"
	"gorm.io/gorm"
)

const (
	MinWaitingDescription = 10
	MaxWaitingDescription = 2000
	MaxNotes              = 2000
)

// Assign sets the assignee without changing status. Reassigning to the same
// user is a no-op.
func (s *Service) Assign(ctx context.Context, id uint, assignee string, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionAssign
	if err := requireCapability(op, id, actor, CapAssign); err != nil {
		return nil, err
	}
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, validationError(op, id, []FieldError{{"assignedTo", "is required"}})
	}

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status.IsTerminal() {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("cannot assign a %s work order", wo.Status))
		}
		if wo.AssignedTo == assignee {
			return &change{noop: true}, nil
		}
		note := "assigned to " + assignee
		if wo.AssignedTo != "" {
			note = fmt.Sprintf("reassigned from %s to %s", wo.AssignedTo, assignee)
		}
		return &change{
			to:      wo.Status,
			updates: map[string]interface{}{"assigned_to": assignee},
			note:    note,
		}, nil
	})
}

// Start moves an assigned PENDING order to IN_PROGRESS and stamps the start
// date once.
func (s *Service) Start(ctx context.Context, id uint, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionStart
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status != models.StatusPending {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("can only start a PENDING work order, status is %s", wo.Status))
		}
		if wo.AssignedTo == "" {
			return nil, &Error{Op: op, ID: id, Kind: KindNotAssigned, Status: wo.Status, Msg: "work order has no assignee"}
		}
		updates := map[string]interface{}{}
		if wo.StartedDate == nil {
			updates["started_date"] = now
		}
		return &change{to: models.StatusInProgress, updates: updates}, nil
	})
}

// WaitingInput holds the fields required to put an order on hold.
type WaitingInput struct {
	Reason      string
	Description string
	ETA         *time.Time
}

func (in WaitingInput) validate(now time.Time) (models.WaitingReason, string, []FieldError) {
	var fields []FieldError
	reason, err := models.ParseWaitingReason(in.Reason)
	if err != nil {
		fields = append(fields, FieldError{"reason", err.Error()})
	}
	desc := strings.TrimSpace(in.Description)
	switch n := runeLen(desc); {
	case n < MinWaitingDescription:
		fields = append(fields, FieldError{"description", fmt.Sprintf("must be at least %d characters", MinWaitingDescription)})
	case n > MaxWaitingDescription:
		fields = append(fields, FieldError{"description", fmt.Sprintf("must be at most %d characters", MaxWaitingDescription)})
	}
	switch {
	case in.ETA == nil:
		fields = append(fields, FieldError{"eta", "is required"})
	case !in.ETA.After(now):
		fields = append(fields, FieldError{"eta", "must be in the future"})
	}
	return reason, desc, fields
}

// EnterWaiting puts an IN_PROGRESS order on hold. Input is validated before
// the row is read, so a malformed request never changes status.
func (s *Service) EnterWaiting(ctx context.Context, id uint, in WaitingInput, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionWait
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	reason, desc, fields := in.validate(s.now())
	if len(fields) > 0 {
		return nil, validationError(op, id, fields)
	}
	eta := in.ETA.UTC()

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status != models.StatusInProgress {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("can only wait from IN_PROGRESS, status is %s", wo.Status))
		}
		return &change{
			to: models.StatusWaiting,
			updates: map[string]interface{}{
				"waiting_reason":      reason,
				"waiting_description": desc,
				"waiting_eta":         eta,
				"waiting_since":       now,
			},
			note: string(reason),
		}, nil
	})
}

// Resume returns a WAITING order to IN_PROGRESS. Waiting fields are kept.
// Open downtime is left alone; it needs its own confirmation.
func (s *Service) Resume(ctx context.Context, id uint, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionResume
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status != models.StatusWaiting {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("can only resume a WAITING work order, status is %s", wo.Status))
		}
		return &change{to: models.StatusInProgress}, nil
	})
}

// Cancel is the administrative override: any open order may be cancelled.
// An open downtime log is closed at the cancellation time.
func (s *Service) Cancel(ctx context.Context, id uint, reason string, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionCancel
	if err := requireCapability(op, id, actor, CapCancel); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	switch n := runeLen(reason); {
	case n == 0:
		return nil, validationError(op, id, []FieldError{{"reason", "is required"}})
	case n > MaxNotes:
		return nil, validationError(op, id, []FieldError{{"reason", fmt.Sprintf("must be at most %d characters", MaxNotes)}})
	}

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status.IsTerminal() {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("work order is already %s", wo.Status))
		}
		open, err := downtime.FindOpen(tx, id)
		if err != nil {
			return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
		}
		if open != nil {
			if _, err := downtime.Close(tx, id, &open.ID, now, actor.ID); err != nil {
				return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
			}
		}
		return &change{
			to: models.StatusCancelled,
			updates: map[string]interface{}{
				"cancel_reason": reason,
				"cancelled_at":  now,
			},
			note: reason,
		}, nil
	})
}
