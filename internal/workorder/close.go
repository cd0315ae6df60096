package workorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/worklog"
	"gorm.io/gorm"
)

// Closure field limits.
const (
	MinDiagnosis      = 10
	MaxDiagnosis      = 2000
	MinSolution       = 10
	MaxSolution       = 5000
	MaxConfirmedCause = 255
	DerivedTitleLen   = 100
)

// ClosePayload is the guided-close form. Both modes submit the same shape;
// the professional fields are optional in either.
type ClosePayload struct {
	Mode      string `json:"mode"`
	Title     string `json:"title"`
	Diagnosis string `json:"diagnosis"`
	Solution  string `json:"solution"`
	Outcome   string `json:"outcome"`
	FixType   string `json:"fixType"`

	FinalComponentID    *uint  `json:"finalComponentId"`
	FinalSubcomponentID *uint  `json:"finalSubcomponentId"`
	ConfirmedCause      string `json:"confirmedCause"`
	Effectiveness       *int   `json:"effectiveness"`
	Notes               string `json:"notes"`
	ActualMinutes       *int   `json:"actualMinutes"`
}

// closure is a validated, normalized ClosePayload.
type closure struct {
	mode          models.ClosingMode
	title         string
	diagnosis     string
	solution      string
	outcome       models.Outcome
	fixType       models.FixType
	cause         string
	notes         string
	component     *uint
	subcomponent  *uint
	effectiveness *int
	minutes       *int
}

func (p ClosePayload) validate() (*closure, []FieldError) {
	var fields []FieldError
	c := &closure{
		title:         strings.TrimSpace(p.Title),
		diagnosis:     strings.TrimSpace(p.Diagnosis),
		solution:      strings.TrimSpace(p.Solution),
		cause:         strings.TrimSpace(p.ConfirmedCause),
		notes:         strings.TrimSpace(p.Notes),
		component:     p.FinalComponentID,
		subcomponent:  p.FinalSubcomponentID,
		effectiveness: p.Effectiveness,
		minutes:       p.ActualMinutes,
	}

	var err error
	if c.mode, err = models.ParseClosingMode(p.Mode); err != nil {
		fields = append(fields, FieldError{"mode", err.Error()})
	}
	fields = appendLength(fields, "diagnosis", c.diagnosis, MinDiagnosis, MaxDiagnosis)
	fields = appendLength(fields, "solution", c.solution, MinSolution, MaxSolution)
	if strings.TrimSpace(p.Outcome) == "" {
		fields = append(fields, FieldError{"outcome", "is required"})
	} else if c.outcome, err = models.ParseOutcome(p.Outcome); err != nil {
		fields = append(fields, FieldError{"outcome", err.Error()})
	}
	if c.fixType, err = models.ParseFixType(p.FixType); err != nil {
		fields = append(fields, FieldError{"fixType", err.Error()})
	}
	if runeLen(c.title) > MaxTitle {
		fields = append(fields, FieldError{"title", fmt.Sprintf("must be at most %d characters", MaxTitle)})
	}
	if runeLen(c.cause) > MaxConfirmedCause {
		fields = append(fields, FieldError{"confirmedCause", fmt.Sprintf("must be at most %d characters", MaxConfirmedCause)})
	}
	if c.effectiveness != nil && (*c.effectiveness < 1 || *c.effectiveness > 5) {
		fields = append(fields, FieldError{"effectiveness", "must be between 1 and 5"})
	}
	if runeLen(c.notes) > MaxNotes {
		fields = append(fields, FieldError{"notes", fmt.Sprintf("must be at most %d characters", MaxNotes)})
	}
	if c.minutes != nil && *c.minutes <= 0 {
		fields = append(fields, FieldError{"actualMinutes", "must be a positive number of minutes"})
	}
	if len(fields) > 0 {
		return nil, fields
	}
	if c.title == "" {
		c.title = DeriveTitle(c.solution)
	}
	return c, nil
}

func appendLength(fields []FieldError, name, v string, lo, hi int) []FieldError {
	switch n := runeLen(v); {
	case n == 0:
		return append(fields, FieldError{name, "is required"})
	case n < lo:
		return append(fields, FieldError{name, fmt.Sprintf("must be at least %d characters", lo)})
	case n > hi:
		return append(fields, FieldError{name, fmt.Sprintf("must be at most %d characters", hi)})
	}
	return fields
}

// DeriveTitle truncates a solution text to a display title.
func DeriveTitle(solution string) string {
	r := []rune(strings.TrimSpace(solution))
	if len(r) <= DerivedTitleLen {
		return string(r)
	}
	return strings.TrimSpace(string(r[:DerivedTitleLen]))
}

// Close finishes an IN_PROGRESS or WAITING order. Guards run in order:
// status, return to production, then the payload, so the caller is routed
// to the blocking remediation before being asked to fix the form.
func (s *Service) Close(ctx context.Context, id uint, p ClosePayload, actor Actor) (*models.WorkOrder, error) {
	const op = TransitionClose
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}

	return s.transition(ctx, op, id, actor, func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error) {
		if wo.Status != models.StatusInProgress && wo.Status != models.StatusWaiting {
			return nil, invalidState(op, id, wo.Status, fmt.Sprintf("can only close from IN_PROGRESS or WAITING, status is %s", wo.Status))
		}
		blocker, err := rtpBlocker(tx, op, wo)
		if err != nil {
			return nil, err
		}
		if blocker != nil {
			return nil, blocker
		}
		c, fields := p.validate()
		if len(fields) > 0 {
			return nil, validationError(op, id, fields)
		}

		if c.minutes != nil {
			start := now.Add(-time.Duration(*c.minutes) * time.Minute)
			if _, err := worklog.Add(tx, worklog.AddOpts{
				WorkOrderID:   id,
				ActivityType:  models.ActivityExecution,
				Description:   "recorded at close",
				PerformedBy:   actor.ID,
				StartedAt:     start,
				EndedAt:       &now,
				ActualMinutes: c.minutes,
			}); err != nil {
				return nil, fmt.Errorf("workorder: %s %d: %w", op, id, err)
			}
		}

		completed := now
		if completed.Before(wo.CreatedAt) {
			completed = wo.CreatedAt
		}
		return &change{
			to: models.StatusClosed,
			updates: map[string]interface{}{
				"completed_date":        completed,
				"closure_title":         c.title,
				"diagnosis_notes":       c.diagnosis,
				"work_performed_notes":  c.solution,
				"result_notes":          c.outcome,
				"fix_type":              c.fixType,
				"closing_mode":          c.mode,
				"confirmed_cause":       c.cause,
				"final_component_id":    c.component,
				"final_subcomponent_id": c.subcomponent,
				"effectiveness":         c.effectiveness,
				"closure_notes":         c.notes,
				"closed_by":             actor.ID,
			},
			note: string(c.outcome),
		}, nil
	})
}
