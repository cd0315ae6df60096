// Package notify fans work order events out to chat platforms (Slack,
// Discord). The lifecycle core only emits events; delivery lives here.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/otyard/internal/models"
)

// EventType identifies what happened to a work order.
type EventType string

const (
	EventTransition     EventType = "transition"
	EventFollow         EventType = "follow"
	EventUnfollow       EventType = "unfollow"
	EventSLAAtRisk      EventType = "sla_at_risk"
	EventSLABreached    EventType = "sla_breached"
	EventWaitingOverdue EventType = "waiting_overdue"
)

// Event is a single notification emitted by the lifecycle or the sweep.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	WorkOrderID uint            `json:"workOrderId"`
	Title       string          `json:"title,omitempty"`
	Priority    models.Priority `json:"priority,omitempty"`
	Transition  string          `json:"transition,omitempty"` // start, wait, close...; empty for non-transition events
	From        models.Status   `json:"from,omitempty"`
	To          models.Status   `json:"to,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Watchers    []string        `json:"watchers,omitempty"`
	Note        string          `json:"note,omitempty"`
	SLADue      *time.Time      `json:"slaDue,omitempty"` // nil once the order is terminal
	At          time.Time       `json:"at"`
}

// NewEvent returns an Event with a fresh id.
func NewEvent(typ EventType, workOrderID uint, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		WorkOrderID: workOrderID,
		At:          at,
	}
}

// Publisher receives events for delivery. Implementations must not block
// for long; the lifecycle publishes after commit on the request path.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

// Adapter is the interface that platform-specific senders must satisfy.
type Adapter interface {
	// Name identifies the platform, e.g. "slack".
	Name() string

	// Connect prepares the platform client. It is safe to call twice.
	Connect(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close releases the platform client.
	Close() error
}

// OutboundMessage represents a message to be sent to a chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel; empty uses the adapter default
	Text      string           // plain-text fallback
	Events    []FormattedEvent // structured event attachments
}

// FormattedEvent represents an event formatted for display in chat.
type FormattedEvent struct {
	Title    string  // event headline (e.g. "OT #42 closed")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint
	Fields   []Field // key-value metadata pairs

	// Work order context for adapters that lay it out themselves.
	Kind        EventType
	WorkOrderID uint
	Priority    models.Priority
	SLADue      *time.Time
	At          time.Time
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
