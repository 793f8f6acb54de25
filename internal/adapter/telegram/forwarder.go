package telegram

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
)

// Sender delivers one text message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// Forwarder relays published log events to the operations chat. Events are
// queued so logging never waits on the network; a full queue drops events.
//
// The sender must log through a logger that is not bridged, otherwise a
// failing operations chat would feed its own errors back into the queue.
type Forwarder struct {
	sender  Sender
	chatID  string
	queue   chan observability.LogEvent
	done    chan struct{}
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewForwarder creates a forwarder with room for queueSize pending events.
func NewForwarder(sender Sender, chatID string, queueSize int, metrics *observability.Metrics, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		sender:  sender,
		chatID:  chatID,
		queue:   make(chan observability.LogEvent, queueSize),
		done:    make(chan struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// HandleLogEvent implements observability.Subscriber.
func (f *Forwarder) HandleLogEvent(e observability.LogEvent) {
	select {
	case f.queue <- e:
	default:
		f.metrics.LogEventsForwarded.WithLabelValues("dropped").Inc()
	}
}

// Run sends queued events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.queue:
			f.forward(ctx, e)
		}
	}
}

// Drain waits for Run to return, then sends whatever is still queued
// until the queue is empty or ctx expires.
func (f *Forwarder) Drain(ctx context.Context) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case e := <-f.queue:
			f.forward(ctx, e)
		default:
			return
		}
		if ctx.Err() != nil {
			f.logger.Warn("log forwarder stopped with pending events", "pending", len(f.queue))
			return
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, e observability.LogEvent) {
	if err := f.sender.Send(ctx, f.chatID, e.String()); err != nil {
		f.metrics.LogEventsForwarded.WithLabelValues("dropped").Inc()
		return
	}
	f.metrics.LogEventsForwarded.WithLabelValues("sent").Inc()
}
