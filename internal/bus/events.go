// Package bus provides a small in-process event bus used to observe deliveries.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Delivery lifecycle event types.
const (
	EventDeliveryAttempt   = "delivery.attempt"
	EventDeliverySucceeded = "delivery.succeeded"
	EventDeliveryFailed    = "delivery.failed"
	EventDeliveryNoRoute   = "delivery.no_route"
	EventDeliveryDuplicate = "delivery.duplicate"
	EventSpoolAccepted     = "spool.accepted"
	EventInboxReceived     = "inbox.received"
)

const defaultMaxHistory = 1000

// Event is a single notification published on the bus.
type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// EventBus is a topic-based pub/sub with wildcard ("*") subscriptions and a
// bounded replay buffer. Handlers run synchronously on the emitting goroutine.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string][]subscription
	nextID     int
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

// NewEventBus creates a bus keeping up to maxHistory events for Replay.
// A non-positive maxHistory uses the default of 1000.
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:       make(map[string][]subscription),
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// On subscribes handler to eventType and returns an ID for Off.
func (eb *EventBus) On(eventType string, handler Handler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.Itoa(eb.nextID)
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// Off removes a subscription. Unknown IDs are ignored.
func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers in subscription order.
// A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, ev)
	targets := make([]subscription, 0, len(eb.subs[ev.Type])+len(eb.subs["*"]))
	targets = append(targets, eb.subs[ev.Type]...)
	targets = append(targets, eb.subs["*"]...)
	eb.mu.Unlock()

	for _, s := range targets {
		eb.dispatch(s, ev)
	}
}

func (eb *EventBus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", ev.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(ev)
}

// Replay returns recorded events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var out []Event
	for _, ev := range eb.history {
		if ev.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// HistoryLen returns the number of buffered events.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
