// Package sweep periodically re-projects SLA and waiting ETAs of open work
// orders and raises an event when one crosses a threshold.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/otyard/internal/metrics"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
	"github.com/zulandar/otyard/internal/sla"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// orderState is the last observed projection of one open order.
type orderState struct {
	slaStatus sla.Status
	overdue   bool
}

// Sweeper compares each open order against the previous poll. The first
// poll only records a baseline so a restart does not replay old alerts.
type Sweeper struct {
	db        *gorm.DB
	publisher notify.Publisher
	policy    sla.Policy
	logger    *zap.Logger
	now       func() time.Time
	schedule  string

	mu       sync.Mutex
	snapshot map[uint]orderState
	seeded   bool
}

// Opts holds parameters for creating a Sweeper.
type Opts struct {
	DB        *gorm.DB
	Publisher notify.Publisher
	Policy    sla.Policy
	Logger    *zap.Logger
	Now       func() time.Time
	Schedule  string // cron expression, defaults to DefaultSchedule
}

// New creates a Sweeper.
func New(opts Opts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("sweep: db is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("sweep: publisher is required")
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("sweep: schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		db:        opts.DB,
		publisher: opts.Publisher,
		policy:    opts.Policy,
		logger:    opts.Logger,
		now:       opts.Now,
		schedule:  schedule,
		snapshot:  make(map[uint]orderState),
	}
	if s.policy.Hours == nil {
		s.policy = sla.DefaultPolicy()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Next returns the next time the schedule fires after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	sched, err := cronParser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

// Poll runs one detection cycle and returns the events it found.
func (s *Sweeper) Poll(ctx context.Context) ([]notify.Event, error) {
	var orders []models.WorkOrder
	err := s.db.WithContext(ctx).
		Select("id, title, priority, status, created_at, waiting_eta").
		Where("status IN ?", models.StatusSpellings(models.OpenStatuses...)).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("sweep: load open orders: %w", err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []notify.Event
	current := make(map[uint]bool, len(orders))
	for i := range orders {
		wo := &orders[i]
		current[wo.ID] = true
		st := orderState{
			slaStatus: s.policy.ComputeFor(wo, now).Status,
			overdue:   wo.Status == models.StatusWaiting && wo.WaitingETA != nil && wo.WaitingETA.Before(now),
		}
		old, known := s.snapshot[wo.ID]
		s.snapshot[wo.ID] = st
		if !s.seeded {
			continue
		}
		if !known {
			old = orderState{slaStatus: sla.StatusOK}
		}

		if st.slaStatus != old.slaStatus {
			switch st.slaStatus {
			case sla.StatusBreached:
				events = append(events, s.event(notify.EventSLABreached, wo, now))
			case sla.StatusAtRisk:
				events = append(events, s.event(notify.EventSLAAtRisk, wo, now))
			}
		}
		if st.overdue && !old.overdue {
			evt := s.event(notify.EventWaitingOverdue, wo, now)
			evt.Note = fmt.Sprintf("ETA was %s", wo.WaitingETA.UTC().Format(time.RFC3339))
			events = append(events, evt)
		}
	}

	for id := range s.snapshot {
		if !current[id] {
			delete(s.snapshot, id)
		}
	}
	s.seeded = true
	return events, nil
}

func (s *Sweeper) event(typ notify.EventType, wo *models.WorkOrder, now time.Time) notify.Event {
	evt := notify.NewEvent(typ, wo.ID, now)
	evt.Title = wo.Title
	evt.Priority = wo.Priority
	evt.To = wo.Status
	p := s.policy.ComputeFor(wo, now)
	evt.SLADue = &p.DueAt
	if p.Overdue {
		evt.Note = fmt.Sprintf("%dh past due", p.OverdueHours)
	} else {
		evt.Note = fmt.Sprintf("%dh left", p.HoursRemaining)
	}
	return evt
}

// Tick polls once and publishes what it found.
func (s *Sweeper) Tick(ctx context.Context) {
	events, err := s.Poll(ctx)
	if err != nil {
		s.logger.Error("sla sweep failed", zap.Error(err))
		return
	}
	for _, evt := range events {
		metrics.SweepEventsTotal.WithLabelValues(string(evt.Type)).Inc()
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish sweep event",
				zap.String("type", string(evt.Type)),
				zap.Uint("work_order_id", evt.WorkOrderID),
				zap.Error(err))
		}
	}
	if len(events) > 0 {
		s.logger.Info("sla sweep raised events", zap.Int("count", len(events)))
	}
}

// Run seeds the baseline, then ticks on the schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := s.Poll(ctx); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("sweep: schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.logger.Info("sla sweep started",
		zap.String("schedule", s.schedule),
		zap.Time("next", s.Next(time.Now().UTC())))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
