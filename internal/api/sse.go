package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/otyard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const heartbeatInterval = 15 * time.Second

// transitionEvent is the payload of a "transition" stream event.
type transitionEvent struct {
	ID          uint          `json:"id"`
	WorkOrderID uint          `json:"workOrderId"`
	CompanyID   uint          `json:"companyId"`
	Transition  string        `json:"transition"`
	From        models.Status `json:"from"`
	To          models.Status `json:"to"`
	Actor       string        `json:"actor"`
	Note        string        `json:"note,omitempty"`
	At          time.Time     `json:"at"`
}

// handleEvents streams audit rows written after the client connected.
// An optional companyId narrows the stream to one tenant.
func (s *Server) handleEvents(c *gin.Context) {
	company, ok := queryUint(c, "companyId")
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	db := s.db.WithContext(ctx)

	var lastSeenID uint
	var latest models.WorkOrderTransition
	if err := db.Order("id DESC").Limit(1).Find(&latest).Error; err == nil {
		lastSeenID = latest.ID
	}

	ticker := time.NewTicker(s.eventPoll)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			events, err := transitionsSince(db, lastSeenID, company)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("event stream poll failed", zap.Error(err))
				}
				continue
			}
			if len(events) == 0 {
				continue
			}
			for _, evt := range events {
				writeSSE(c.Writer, "transition", evt)
			}
			lastSeenID = events[len(events)-1].ID
			c.Writer.Flush()
		}
	}
}

func transitionsSince(db *gorm.DB, after uint, company *uint) ([]transitionEvent, error) {
	q := db.Table("work_order_transitions AS t").
		Select("t.id, t.work_order_id, w.company_id, t.transition, t.from_status AS `from`, t.to_status AS `to`, t.actor, t.note, t.created_at AS at").
		Joins("JOIN work_orders w ON w.id = t.work_order_id").
		Where("t.id > ?", after).
		Order("t.id ASC").
		Limit(500)
	if company != nil {
		q = q.Where("w.company_id = ?", *company)
	}
	var out []transitionEvent
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("api: load transitions: %w", err)
	}
	return out, nil
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
