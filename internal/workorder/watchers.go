package workorder

import (
	"context"
	"fmt"

	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Follow subscribes the actor to the work order's transition events.
// Following twice is a no-op.
func (s *Service) Follow(ctx context.Context, id uint, actor Actor) error {
	if err := requireActor("follow", id, actor); err != nil {
		return err
	}
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "follow", id); err != nil {
		return err
	}
	w := models.WorkOrderWatcher{WorkOrderID: id, UserID: actor.ID, CreatedAt: s.now()}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&w)
	if res.Error != nil {
		return fmt.Errorf("workorder: follow %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.logger.Info("work order followed", zap.Uint("work_order_id", id), zap.String("actor", actor.ID))
	evt := notify.NewEvent(notify.EventFollow, id, s.now())
	evt.Actor = actor.ID
	s.publish(ctx, evt)
	return nil
}

// Unfollow removes the actor's subscription. Unfollowing an order the actor
// does not follow is a no-op.
func (s *Service) Unfollow(ctx context.Context, id uint, actor Actor) error {
	if err := requireActor("unfollow", id, actor); err != nil {
		return err
	}
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "unfollow", id); err != nil {
		return err
	}
	res := tx.Where("work_order_id = ? AND user_id = ?", id, actor.ID).Delete(&models.WorkOrderWatcher{})
	if res.Error != nil {
		return fmt.Errorf("workorder: unfollow %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.logger.Info("work order unfollowed", zap.Uint("work_order_id", id), zap.String("actor", actor.ID))
	evt := notify.NewEvent(notify.EventUnfollow, id, s.now())
	evt.Actor = actor.ID
	s.publish(ctx, evt)
	return nil
}

// Watchers returns the users following a work order, oldest first.
func (s *Service) Watchers(ctx context.Context, id uint) ([]models.WorkOrderWatcher, error) {
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "watchers", id); err != nil {
		return nil, err
	}
	var ws []models.WorkOrderWatcher
	if err := tx.Where("work_order_id = ?", id).Order("created_at ASC, user_id ASC").Find(&ws).Error; err != nil {
		return nil, fmt.Errorf("workorder: watchers %d: %w", id, err)
	}
	return ws, nil
}

// History returns the committed transitions of a work order in order.
func (s *Service) History(ctx context.Context, id uint) ([]models.WorkOrderTransition, error) {
	tx := s.db.WithContext(ctx)
	if err := s.ensureExists(tx, "history", id); err != nil {
		return nil, err
	}
	var ts []models.WorkOrderTransition
	if err := tx.Where("work_order_id = ?", id).Order("id ASC").Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("workorder: history %d: %w", id, err)
	}
	return ts, nil
}

func (s *Service) watcherIDs(tx *gorm.DB, id uint) ([]string, error) {
	var ids []string
	err := tx.Model(&models.WorkOrderWatcher{}).
		Where("work_order_id = ?", id).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("workorder: watchers %d: %w", id, err)
	}
	return ids, nil
}

func (s *Service) ensureExists(tx *gorm.DB, op string, id uint) error {
	var n int64
	if err := tx.Model(&models.WorkOrder{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("workorder: %s %d: %w", op, id, err)
	}
	if n == 0 {
		return notFound(op, id, "work order not found")
	}
	return nil
}
