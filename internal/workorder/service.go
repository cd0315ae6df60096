// Package workorder implements the corrective work order lifecycle: intake,
// assignment, execution, waiting, return to production and guided close.
package workorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/otyard/internal/db"
	"github.com/zulandar/otyard/internal/metrics"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
	"github.com/zulandar/otyard/internal/sla"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Transition names, used for audit rows, events and metrics.
const (
	TransitionCreate       = "create"
	TransitionAssign       = "assign"
	TransitionStart        = "start"
	TransitionWait         = "wait"
	TransitionResume       = "resume"
	TransitionConfirmRTP   = "confirm_rtp"
	TransitionOpenDowntime = "open_downtime"
	TransitionClose        = "close"
	TransitionCancel       = "cancel"
)

const (
	maxTransientRetries = 2
	retryBackoff        = 50 * time.Millisecond
)

// Opts holds parameters for creating a Service.
type Opts struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	Publisher notify.Publisher
	Policy    sla.Policy
	// Now returns the reference time; defaults to time.Now in UTC.
	Now func() time.Time
}

// Service runs lifecycle operations against the store.
type Service struct {
	db        *gorm.DB
	logger    *zap.Logger
	publisher notify.Publisher
	policy    sla.Policy
	now       func() time.Time
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workorder: db is required")
	}
	policy := opts.Policy
	if policy.Hours == nil {
		policy = sla.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("workorder: %w", err)
	}
	s := &Service{
		db:        opts.DB,
		logger:    opts.Logger,
		publisher: opts.Publisher,
		policy:    policy,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.publisher == nil {
		s.publisher = notify.Discard{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Policy returns the SLA policy the service projects with.
func (s *Service) Policy() sla.Policy { return s.policy }

// Now returns the service's reference time.
func (s *Service) Now() time.Time { return s.now() }

// change is what a transition wants to write once its guards pass.
type change struct {
	to      models.Status
	updates map[string]interface{}
	note    string
	noop    bool // nothing to write; return the current row
}

// guardFunc inspects the locked row and returns the change to apply. It may
// write to tx (downtime, work logs); those writes share the transaction.
type guardFunc func(tx *gorm.DB, wo *models.WorkOrder, now time.Time) (*change, error)

// transition applies one lifecycle step atomically: lock the row, run the
// guard, compare-and-swap the status, record the audit row, then publish
// after commit.
func (s *Service) transition(ctx context.Context, name string, id uint, actor Actor, guard guardFunc) (*models.WorkOrder, error) {
	var (
		result models.WorkOrder
		from   models.Status
		ch     *change
	)

	err := s.withRetry(ctx, name, func(wrote *bool) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			wo, err := lockWorkOrder(tx, id)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFound(name, id, "work order not found")
				}
				return fmt.Errorf("workorder: %s %d: load: %w", name, id, err)
			}
			from = wo.Status
			now := s.now()

			// Guards may write; from here on a failure is never replayed.
			*wrote = true
			ch, err = guard(tx, wo, now)
			if err != nil {
				return err
			}
			if ch.noop {
				result = *wo
				return nil
			}

			updates := ch.updates
			if updates == nil {
				updates = map[string]interface{}{}
			}
			updates["status"] = ch.to
			updates["updated_at"] = now
			if err := compareAndSwap(tx, name, id, from, updates); err != nil {
				return err
			}

			audit := models.WorkOrderTransition{
				WorkOrderID: id,
				Transition:  name,
				FromStatus:  from,
				ToStatus:    ch.to,
				Actor:       actor.ID,
				Note:        ch.note,
				CreatedAt:   now,
			}
			if err := tx.Create(&audit).Error; err != nil {
				return fmt.Errorf("workorder: %s %d: audit: %w", name, id, err)
			}

			if err := tx.First(&result, id).Error; err != nil {
				return fmt.Errorf("workorder: %s %d: reload: %w", name, id, err)
			}
			return ctx.Err()
		})
	})
	if err != nil {
		s.recordFailure(name, id, actor, err)
		return nil, err
	}

	if ch.noop {
		metrics.TransitionsTotal.WithLabelValues(name, metrics.ResultOK).Inc()
		s.logger.Debug("transition had nothing to do",
			zap.Uint("work_order_id", id),
			zap.String("transition", name),
			zap.String("actor", actor.ID))
		return &result, nil
	}

	metrics.TransitionsTotal.WithLabelValues(name, metrics.ResultOK).Inc()
	s.logger.Info("work order transition",
		zap.Uint("work_order_id", id),
		zap.String("transition", name),
		zap.String("from", string(from)),
		zap.String("to", string(ch.to)),
		zap.String("actor", actor.ID))

	s.publishTransition(ctx, name, &result, from, actor, ch.note)
	return &result, nil
}

func (s *Service) recordFailure(name string, id uint, actor Actor, err error) {
	if e, ok := AsError(err); ok {
		metrics.TransitionsTotal.WithLabelValues(name, metrics.ResultRejected).Inc()
		s.logger.Debug("transition rejected",
			zap.Uint("work_order_id", id),
			zap.String("transition", name),
			zap.String("kind", string(e.Kind)),
			zap.String("reason", e.Reason),
			zap.String("actor", actor.ID))
		return
	}
	metrics.TransitionsTotal.WithLabelValues(name, metrics.ResultError).Inc()
	s.logger.Error("transition failed",
		zap.Uint("work_order_id", id),
		zap.String("transition", name),
		zap.String("actor", actor.ID),
		zap.Error(err))
}

// lockWorkOrder reads the row for update. SQLite serializes writers and has
// no row locks, so the locking clause is skipped there.
func lockWorkOrder(tx *gorm.DB, id uint) (*models.WorkOrder, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var wo models.WorkOrder
	if err := q.Where("id = ?", id).First(&wo).Error; err != nil {
		return nil, err
	}
	return &wo, nil
}

// compareAndSwap writes updates only if the row still has status from, in
// any stored spelling. The write itself stores the canonical form.
func compareAndSwap(tx *gorm.DB, op string, id uint, from models.Status, updates map[string]interface{}) error {
	res := tx.Model(&models.WorkOrder{}).
		Where("id = ? AND status IN ?", id, models.StatusSpellings(from)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("workorder: %s %d: update: %w", op, id, res.Error)
	}
	if res.RowsAffected == 0 {
		e := invalidState(op, id, from, "work order changed concurrently")
		e.Reason = ReasonConcurrentChange
		return e
	}
	return nil
}

// withRetry replays fn after a transient store failure, at most
// maxTransientRetries times and only while fn has not attempted a write.
func (s *Service) withRetry(ctx context.Context, op string, fn func(wrote *bool) error) error {
	for attempt := 0; ; attempt++ {
		wrote := false
		err := fn(&wrote)
		if err == nil || wrote || attempt >= maxTransientRetries || !db.IsTransient(err) {
			return err
		}
		wait := retryBackoff << attempt
		s.logger.Warn("transient store error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Service) publishTransition(ctx context.Context, name string, wo *models.WorkOrder, from models.Status, actor Actor, note string) {
	evt := notify.NewEvent(notify.EventTransition, wo.ID, s.now())
	evt.Title = wo.Title
	evt.Priority = wo.Priority
	evt.Transition = name
	evt.From = from
	evt.To = wo.Status
	evt.Actor = actor.ID
	evt.Note = note
	evt.SLADue = s.slaDue(wo)
	s.publish(ctx, evt)
}

// slaDue is the SLA deadline carried on events; terminal orders have none.
func (s *Service) slaDue(wo *models.WorkOrder) *time.Time {
	if wo.Status.IsTerminal() {
		return nil
	}
	due := s.policy.ComputeFor(wo, s.now()).DueAt
	return &due
}

// publish attaches the watcher list and hands the event to the publisher.
// Delivery failures are logged; the transition has already committed, so
// the caller's cancellation no longer applies.
func (s *Service) publish(ctx context.Context, evt notify.Event) {
	ctx = context.WithoutCancel(ctx)
	watchers, err := s.watcherIDs(s.db.WithContext(ctx), evt.WorkOrderID)
	if err != nil {
		s.logger.Warn("load watchers for event", zap.Uint("work_order_id", evt.WorkOrderID), zap.Error(err))
	}
	evt.Watchers = watchers
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event",
			zap.String("event_id", evt.ID),
			zap.String("type", string(evt.Type)),
			zap.Uint("work_order_id", evt.WorkOrderID),
			zap.Error(err))
	}
}
