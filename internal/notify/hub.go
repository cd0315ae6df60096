package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/otyard/internal/metrics"
	"go.uber.org/zap"
)

// DefaultSendTimeout bounds a single adapter delivery.
const DefaultSendTimeout = 10 * time.Second

// DefaultQueueSize is the number of events a Hub buffers for delivery.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned by Publish when the delivery queue has no room.
	// The event is dropped.
	ErrQueueFull = errors.New("notify: delivery queue full")
	// ErrHubClosed is returned by Publish after Close.
	ErrHubClosed = errors.New("notify: hub closed")
)

// HubOpts holds parameters for creating a Hub.
type HubOpts struct {
	Adapters    []Adapter
	Logger      *zap.Logger
	SendTimeout time.Duration
	QueueSize   int
}

// Hub is a Publisher that formats each event once and sends it to every
// configured adapter. Publish only enqueues; a single worker delivers in
// order, detached from the publisher's context.
type Hub struct {
	adapters []Adapter
	logger   *zap.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewHub creates a Hub and starts its delivery worker. A hub with no
// adapters accepts and drops events.
func NewHub(opts HubOpts) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	h := &Hub{
		adapters: opts.Adapters,
		logger:   logger.Named("notify"),
		timeout:  timeout,
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Adapters returns the names of the configured adapters.
func (h *Hub) Adapters() []string {
	names := make([]string, 0, len(h.adapters))
	for _, a := range h.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Connect connects every adapter, stopping at the first failure.
func (h *Hub) Connect(ctx context.Context) error {
	for _, a := range h.adapters {
		if err := a.Connect(ctx); err != nil {
			return fmt.Errorf("notify: connect %s: %w", a.Name(), err)
		}
	}
	return nil
}

// Publish queues evt for delivery and returns without waiting on any
// adapter. It never blocks: a full queue drops the event.
func (h *Hub) Publish(ctx context.Context, evt Event) error {
	if len(h.adapters) == 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	select {
	case h.queue <- evt:
		return nil
	default:
	}
	for _, a := range h.adapters {
		metrics.NotificationsTotal.WithLabelValues(a.Name(), metrics.ResultDropped).Inc()
	}
	h.logger.Warn("notification queue full, dropping event",
		zap.String("event_id", evt.ID),
		zap.Uint("work_order_id", evt.WorkOrderID))
	return ErrQueueFull
}

func (h *Hub) run() {
	defer close(h.done)
	for evt := range h.queue {
		_ = h.Deliver(context.Background(), evt)
	}
}

// Deliver sends evt to every adapter synchronously. A failing adapter does
// not stop delivery to the others; all failures are joined into the
// returned error and logged.
func (h *Hub) Deliver(ctx context.Context, evt Event) error {
	if len(h.adapters) == 0 {
		return nil
	}

	formatted := FormatEvent(evt)
	msg := OutboundMessage{
		Text:   formatted.Title,
		Events: []FormattedEvent{formatted},
	}

	var errs []error
	for _, a := range h.adapters {
		sendCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := a.Send(sendCtx, msg)
		cancel()
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(a.Name(), metrics.ResultError).Inc()
			h.logger.Warn("notification delivery failed",
				zap.String("adapter", a.Name()),
				zap.String("event_id", evt.ID),
				zap.Uint("work_order_id", evt.WorkOrderID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify: %s: %w", a.Name(), err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(a.Name(), metrics.ResultOK).Inc()
		h.logger.Debug("notification delivered",
			zap.String("adapter", a.Name()),
			zap.String("event_id", evt.ID),
			zap.String("type", string(evt.Type)))
	}
	return errors.Join(errs...)
}

// Close stops accepting events, waits for queued ones to be delivered, then
// closes every adapter and returns the joined errors. It is safe to call
// more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	<-h.done

	var errs []error
	for _, a := range h.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notify: close %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}
