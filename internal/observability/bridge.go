package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is a severity-tagged copy of a log record published to subscribers.
type LogEvent struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// String formats the event as "time - LEVEL - message key=value ...".
func (e LogEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s - %s", e.Time.Format("2006-01-02 15:04:05"), e.Level, e.Message)
	for _, a := range e.Attrs {
		fmt.Fprintf(&b, "\n%s: %s", a.Key, a.Value.Resolve())
	}
	return b.String()
}

// Subscriber receives published log events. HandleLogEvent runs on the
// logging goroutine and must not block.
type Subscriber interface {
	HandleLogEvent(LogEvent)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(LogEvent)

func (f SubscriberFunc) HandleLogEvent(e LogEvent) { f(e) }

// EventBus fans log events out to subscribers.
type EventBus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers s for all future events.
func (b *EventBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers e to every subscriber.
func (b *EventBus) Publish(e LogEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.HandleLogEvent(e)
	}
}

// BridgeHandler passes records to the next handler and publishes those at
// or above a threshold to an EventBus.
type BridgeHandler struct {
	next   slog.Handler
	bus    *EventBus
	min    slog.Level
	attrs  []slog.Attr
	prefix string
}

// NewBridgeHandler wraps next. Records at min or above are published to bus.
func NewBridgeHandler(next slog.Handler, bus *EventBus, min slog.Level) *BridgeHandler {
	return &BridgeHandler{next: next, bus: bus, min: min}
}

// Bridge returns a logger whose records at min or above are also published to bus.
func Bridge(logger *slog.Logger, bus *EventBus, min slog.Level) *slog.Logger {
	return slog.New(NewBridgeHandler(logger.Handler(), bus, min))
}

func (h *BridgeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.next.Enabled(ctx, level)
}

func (h *BridgeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}

	if r.Level >= h.min {
		attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
		attrs = append(attrs, h.attrs...)
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, h.qualify(a))
			return true
		})
		h.bus.Publish(LogEvent{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	}
	return err
}

func (h *BridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.qualify(a))
	}
	return c
}

func (h *BridgeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return c
}

func (h *BridgeHandler) clone() *BridgeHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	return &c
}

func (h *BridgeHandler) qualify(a slog.Attr) slog.Attr {
	if h.prefix == "" {
		return a
	}
	return slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
}
