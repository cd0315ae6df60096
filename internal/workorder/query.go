package workorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/downtime"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
	"github.com/zulandar/otyard/internal/worklog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit  = 200
	defaultPriorLimit = 5
)

// Get returns a work order with its linked failures.
func (s *Service) Get(ctx context.Context, id uint) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	err := s.db.WithContext(ctx).Preload("Failures").First(&wo, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("get", id, "work order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("workorder: get %d: %w", id, err)
	}
	return &wo, nil
}

// ListFilters narrows List. Zero values mean no filter.
type ListFilters struct {
	CompanyID  uint
	MachineID  *uint
	Statuses   []models.Status
	AssignedTo string
	Limit      int
}

// List returns work orders matching the filters, most urgent first, then
// oldest first.
func (s *Service) List(ctx context.Context, f ListFilters) ([]models.WorkOrder, error) {
	q := s.db.WithContext(ctx).Model(&models.WorkOrder{})
	if f.CompanyID != 0 {
		q = q.Where("company_id = ?", f.CompanyID)
	}
	if f.MachineID != nil {
		q = q.Where("machine_id = ?", *f.MachineID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", models.StatusSpellings(f.Statuses...))
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var orders []models.WorkOrder
	if err := q.Order(models.PriorityOrderSQL() + ", created_at ASC, id ASC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("workorder: list: %w", err)
	}
	return orders, nil
}

// Detail is the read model behind the work order screen.
type Detail struct {
	WorkOrder       *models.WorkOrder    `json:"workOrder"`
	SLA             *sla.Projection      `json:"sla,omitempty"`
	DowntimeLogs    []models.DowntimeLog `json:"downtimeLogs"`
	OpenDowntime    *models.DowntimeLog  `json:"openDowntime,omitempty"`
	WorkLogs        []models.WorkLog     `json:"workLogs"`
	Watchers        []string             `json:"watchers"`
	LoggedMinutes   int                  `json:"loggedMinutes"`
	DowntimeMinutes int                  `json:"downtimeMinutes"`
	// CloseBlocker names the return-to-production reason that would reject
	// a close right now, if any.
	CloseBlocker   string `json:"closeBlocker,omitempty"`
	WaitingOverdue bool   `json:"waitingOverdue"`
}

// Detail assembles a consistent snapshot of one work order.
func (s *Service) Detail(ctx context.Context, id uint) (*Detail, error) {
	now := s.now()
	var d Detail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wo models.WorkOrder
		if err := tx.Preload("Failures").First(&wo, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("detail", id, "work order not found")
			}
			return fmt.Errorf("workorder: detail %d: %w", id, err)
		}
		d.WorkOrder = &wo

		var err error
		if d.DowntimeLogs, err = downtime.List(tx, id); err != nil {
			return err
		}
		for i := range d.DowntimeLogs {
			if d.DowntimeLogs[i].IsOpen() {
				d.OpenDowntime = &d.DowntimeLogs[i]
			}
		}
		if d.WorkLogs, err = worklog.List(tx, id); err != nil {
			return err
		}
		if d.Watchers, err = s.watcherIDs(tx, id); err != nil {
			return err
		}
		if d.LoggedMinutes, err = worklog.TotalMinutes(tx, id); err != nil {
			return err
		}
		if d.DowntimeMinutes, err = downtime.TotalMinutes(tx, id); err != nil {
			return err
		}
		if !wo.Status.IsTerminal() {
			blocker, err := rtpBlocker(tx, "detail", &wo)
			if err != nil {
				return err
			}
			if blocker != nil {
				d.CloseBlocker = blocker.Reason
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !d.WorkOrder.Status.IsTerminal() {
		p := s.policy.ComputeFor(d.WorkOrder, now)
		d.SLA = &p
	}
	d.WaitingOverdue = WaitingOverdue(d.WorkOrder, now)
	if d.Watchers == nil {
		d.Watchers = []string{}
	}
	return &d, nil
}

// WaitingOverdue reports whether a WAITING order is past its ETA.
func WaitingOverdue(wo *models.WorkOrder, now time.Time) bool {
	return wo.Status == models.StatusWaiting && wo.WaitingETA != nil && wo.WaitingETA.Before(now)
}

// PriorSolution is a closed work order offered as a starting template.
type PriorSolution struct {
	WorkOrderID   uint           `json:"workOrderId"`
	Title         string         `json:"title"`
	Diagnosis     string         `json:"diagnosis"`
	Solution      string         `json:"solution"`
	Outcome       models.Outcome `json:"outcome"`
	FixType       models.FixType `json:"fixType"`
	Effectiveness *int           `json:"effectiveness,omitempty"`
	CompletedDate *time.Time     `json:"completedDate,omitempty"`
}

// PriorSolutions lists solutions applied to closed orders on the same
// machine or final component. Results that worked come first, then the
// most recent. The lookup is advisory and never writes.
func (s *Service) PriorSolutions(ctx context.Context, id uint, limit int) ([]PriorSolution, error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPriorLimit
	}

	var conds []string
	var args []interface{}
	if wo.MachineID != nil {
		conds = append(conds, "machine_id = ?")
		args = append(args, *wo.MachineID)
	}
	if wo.FinalComponentID != nil {
		conds = append(conds, "final_component_id = ?")
		args = append(args, *wo.FinalComponentID)
	}
	if len(conds) == 0 {
		return []PriorSolution{}, nil
	}

	var closed []models.WorkOrder
	err = s.db.WithContext(ctx).
		Where("company_id = ? AND status IN ? AND id <> ?", wo.CompanyID, models.StatusSpellings(models.StatusClosed), wo.ID).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Order("completed_date DESC").
		Limit(limit * 4).
		Find(&closed).Error
	if err != nil {
		return nil, fmt.Errorf("workorder: prior solutions %d: %w", id, err)
	}

	sort.SliceStable(closed, func(i, j int) bool {
		wi, wj := closed[i].ResultNotes == models.OutcomeWorked, closed[j].ResultNotes == models.OutcomeWorked
		if wi != wj {
			return wi
		}
		return completedAfter(closed[i].CompletedDate, closed[j].CompletedDate)
	})
	if len(closed) > limit {
		closed = closed[:limit]
	}

	out := make([]PriorSolution, 0, len(closed))
	for _, c := range closed {
		out = append(out, PriorSolution{
			WorkOrderID:   c.ID,
			Title:         c.ClosureTitle,
			Diagnosis:     c.DiagnosisNotes,
			Solution:      c.WorkPerformedNotes,
			Outcome:       c.ResultNotes,
			FixType:       c.FixType,
			Effectiveness: c.Effectiveness,
			CompletedDate: c.CompletedDate,
		})
	}
	return out, nil
}

func completedAfter(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return a.After(*b)
}

// LogWorkInput holds one work log entry. Performer defaults to the actor.
type LogWorkInput struct {
	ActivityType  string
	Description   string
	PerformedBy   string
	StartedAt     time.Time
	EndedAt       *time.Time
	ActualMinutes *int
}

// LogWork appends a work log entry to an order that is not yet terminal.
func (s *Service) LogWork(ctx context.Context, id uint, in LogWorkInput, actor Actor) (*models.WorkLog, error) {
	const op = "log_work"
	if err := requireActor(op, id, actor); err != nil {
		return nil, err
	}
	at, err := models.ParseActivityType(in.ActivityType)
	if err != nil {
		return nil, validationError(op, id, []FieldError{{"activityType", err.Error()}})
	}
	performer := strings.TrimSpace(in.PerformedBy)
	if performer == "" {
		performer = actor.ID
	}
	start := in.StartedAt
	if start.IsZero() {
		start = s.now()
	}
	opts := worklog.AddOpts{
		WorkOrderID:   id,
		ActivityType:  at,
		Description:   in.Description,
		PerformedBy:   performer,
		StartedAt:     start,
		EndedAt:       in.EndedAt,
		ActualMinutes: in.ActualMinutes,
	}
	if err := opts.Validate(); err != nil {
		return nil, &Error{Op: op, ID: id, Kind: KindValidation, Msg: strings.TrimPrefix(err.Error(), worklog.ErrInvalid.Error()+": ")}
	}

	var entry *models.WorkLog
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wo, err := lockWorkOrder(tx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(op, id, "work order not found")
		}
		if err != nil {
			return fmt.Errorf("workorder: %s %d: %w", op, id, err)
		}
		if wo.Status.IsTerminal() {
			return invalidState(op, id, wo.Status, fmt.Sprintf("cannot log work on a %s work order", wo.Status))
		}
		entry, err = worklog.Add(tx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("work logged",
		zap.Uint("work_order_id", id),
		zap.String("activity", string(entry.ActivityType)),
		zap.String("actor", actor.ID))
	return entry, nil
}

// WorkLogs returns the work log of an order.
func (s *Service) WorkLogs(ctx context.Context, id uint) ([]models.WorkLog, error) {
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "work_logs", id); err != nil {
		return nil, err
	}
	return worklog.List(tx, id)
}

// DowntimeLogs returns the downtime ledger of an order.
func (s *Service) DowntimeLogs(ctx context.Context, id uint) ([]models.DowntimeLog, error) {
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "downtime_logs", id); err != nil {
		return nil, err
	}
	return downtime.List(tx, id)
}
