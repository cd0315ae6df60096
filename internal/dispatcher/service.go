package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/otyard/internal/cache"
	"github.com/zulandar/otyard/internal/metrics"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyPrefix  = "otyard:dispatcher:"
	defaultTTL = 15 * time.Second
)

// Opts holds parameters for creating a Service.
type Opts struct {
	DB *gorm.DB
	// Cache holds the raw order snapshot between reads; nil disables it.
	Cache  cache.Cache
	TTL    time.Duration
	Logger *zap.Logger
	Policy sla.Policy
	Now    func() time.Time
}

// Service serves dispatcher views.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	policy sla.Policy
	now    func() time.Time
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatcher: db is required")
	}
	s := &Service{
		db:     opts.DB,
		cache:  opts.Cache,
		ttl:    opts.TTL,
		logger: opts.Logger,
		policy: opts.Policy,
		now:    opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.policy.Hours == nil {
		s.policy = sla.DefaultPolicy()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Scope selects the orders on a board.
type Scope struct {
	CompanyID uint
	MachineID *uint
}

func (sc Scope) key() string {
	if sc.MachineID == nil {
		return fmt.Sprintf("%s%d:all", keyPrefix, sc.CompanyID)
	}
	return fmt.Sprintf("%s%d:%d", keyPrefix, sc.CompanyID, *sc.MachineID)
}

// View builds the board for a scope. The order snapshot may come from the
// cache; SLA and buckets are always recomputed against now.
func (s *Service) View(ctx context.Context, sc Scope) (*View, error) {
	if sc.CompanyID == 0 {
		return nil, fmt.Errorf("dispatcher: company id is required")
	}
	start := time.Now()

	orders, err := s.snapshot(ctx, sc)
	if err != nil {
		return nil, err
	}
	v := Build(orders, s.policy, s.now())

	metrics.DispatcherBuildSeconds.Observe(time.Since(start).Seconds())
	metrics.DispatcherBucketSize.WithLabelValues(BucketEntrantes).Set(float64(v.Summary.Entrantes))
	metrics.DispatcherBucketSize.WithLabelValues(BucketAPlanificar).Set(float64(v.Summary.APlanificar))
	metrics.DispatcherBucketSize.WithLabelValues(BucketInProgress).Set(float64(v.Summary.InProgress))
	metrics.DispatcherBucketSize.WithLabelValues(BucketWaiting).Set(float64(v.Summary.Waiting))
	return &v, nil
}

// Invalidate drops every cached snapshot of a company.
func (s *Service) Invalidate(ctx context.Context, companyID uint) {
	if s.cache == nil {
		return
	}
	prefix := fmt.Sprintf("%s%d:", keyPrefix, companyID)
	if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
		s.logger.Warn("invalidate dispatcher cache", zap.Uint("company_id", companyID), zap.Error(err))
	}
}

// snapshot returns the open orders of a scope. Cache failures fall back to
// the store.
func (s *Service) snapshot(ctx context.Context, sc Scope) ([]models.WorkOrder, error) {
	key := sc.key()
	if s.cache != nil {
		b, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("dispatcher cache read", zap.String("key", key), zap.Error(err))
		case ok:
			var orders []models.WorkOrder
			if err := json.Unmarshal(b, &orders); err == nil {
				return orders, nil
			}
			s.logger.Warn("dispatcher cache entry unreadable", zap.String("key", key))
		}
	}

	orders, err := LoadOpen(s.db.WithContext(ctx), sc)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if b, err := json.Marshal(orders); err == nil {
			if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
				s.logger.Warn("dispatcher cache write", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return orders, nil
}

// LoadOpen reads the non-terminal orders of a scope.
func LoadOpen(db *gorm.DB, sc Scope) ([]models.WorkOrder, error) {
	q := db.Where("company_id = ? AND status IN ?", sc.CompanyID, models.StatusSpellings(models.OpenStatuses...))
	if sc.MachineID != nil {
		q = q.Where("machine_id = ?", *sc.MachineID)
	}
	var orders []models.WorkOrder
	if err := q.Order("id ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("dispatcher: load open orders for company %d: %w", sc.CompanyID, err)
	}
	return orders, nil
}
