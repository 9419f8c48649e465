// Package router delivers messages through an ordered chain of strategies,
// retrying transient failures and falling back until one succeeds.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/domain"
	"agentrelay/internal/metrics"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 300 * time.Millisecond
	DefaultWorkers    = 4
	maxWorkers        = 32
)

// DefaultAutoOrder is the AUTO chain used when Config.AutoOrder is empty.
var DefaultAutoOrder = []string{string(domain.HintGUIAutomation), string(domain.HintInboxFile)}

// Config is fixed when the router is built.
type Config struct {
	Strategies []domain.Strategy
	// AutoOrder lists strategy names for AUTO messages. Every name must be
	// registered. Empty means DefaultAutoOrder, skipping unregistered names.
	AutoOrder []string
	// MaxRetries is the number of extra tries per strategy for transient
	// errors. Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int
	// RetryDelay is the pause between tries. Zero means DefaultRetryDelay;
	// negative means no pause.
	RetryDelay time.Duration
	// Workers bounds Broadcast concurrency, clamped to [1, 32].
	Workers int
	Ledger  domain.Ledger // nil uses an in-memory ledger
	Events  *bus.EventBus
	Metrics *metrics.Registry // nil uses metrics.Collector
	Logger  *slog.Logger
}

// Router is safe for concurrent use.
type Router struct {
	strategies map[string]domain.Strategy
	names      []string
	autoOrder  []string
	maxRetries int
	retryDelay time.Duration
	workers    int
	ledger     domain.Ledger
	events     *bus.EventBus
	metrics    *metrics.Registry
	logger     *slog.Logger

	// inflight holds one delivery per message ID; the ledger lookup, the
	// chain and the ledger write all run inside it.
	inflight singleflight.Group
}

// New validates cfg and builds a router.
func New(cfg Config) (*Router, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("router: no strategies configured")
	}
	r := &Router{
		strategies: make(map[string]domain.Strategy, len(cfg.Strategies)),
		ledger:     cfg.Ledger,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	for _, s := range cfg.Strategies {
		if s == nil {
			return nil, fmt.Errorf("router: nil strategy")
		}
		name := s.Name()
		if name == "" || name == domain.RouterStrategyName {
			return nil, fmt.Errorf("router: invalid strategy name %q", name)
		}
		if _, dup := r.strategies[name]; dup {
			return nil, fmt.Errorf("router: duplicate strategy %q", name)
		}
		r.strategies[name] = s
		r.names = append(r.names, name)
	}

	if len(cfg.AutoOrder) == 0 {
		for _, name := range DefaultAutoOrder {
			if _, ok := r.strategies[name]; ok {
				r.autoOrder = append(r.autoOrder, name)
			}
		}
	} else {
		seen := make(map[string]bool)
		for _, name := range cfg.AutoOrder {
			if _, ok := r.strategies[name]; !ok {
				return nil, fmt.Errorf("router: auto order names unknown strategy %q", name)
			}
			if seen[name] {
				return nil, fmt.Errorf("router: auto order lists %q twice", name)
			}
			seen[name] = true
			r.autoOrder = append(r.autoOrder, name)
		}
	}

	switch {
	case cfg.MaxRetries == 0:
		r.maxRetries = DefaultMaxRetries
	case cfg.MaxRetries > 0:
		r.maxRetries = cfg.MaxRetries
	}
	switch {
	case cfg.RetryDelay == 0:
		r.retryDelay = DefaultRetryDelay
	case cfg.RetryDelay > 0:
		r.retryDelay = cfg.RetryDelay
	}
	r.workers = cfg.Workers
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	if r.workers > maxWorkers {
		r.workers = maxWorkers
	}

	if r.ledger == nil {
		r.ledger = NewMemoryLedger()
	}
	if r.metrics == nil {
		r.metrics = metrics.Collector
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Strategies returns the registered strategy names in registration order.
func (r *Router) Strategies() []string { return append([]string(nil), r.names...) }

// AutoOrder returns the resolved AUTO chain.
func (r *Router) AutoOrder() []string { return append([]string(nil), r.autoOrder...) }

// Deliver routes msg and returns its terminal result. It never panics and
// never returns a bare strategy error; failures are described by the result.
//
// Concurrent calls for the same message ID share one delivery. Callers that
// joined a delivery already in flight get its result, marked Duplicate when it
// succeeded.
func (r *Router) Deliver(ctx context.Context, msg *domain.Message) domain.DeliveryResult {
	owner := false
	v, _, _ := r.inflight.Do(msg.ID, func() (any, error) {
		owner = true
		if prior, ok := r.duplicate(ctx, msg); ok {
			return prior, nil
		}
		return r.deliver(ctx, msg), nil
	})
	res := v.(domain.DeliveryResult)
	res.Attempts = append([]domain.DeliveryAttempt(nil), res.Attempts...)
	if !owner && res.Succeeded() && !res.Duplicate {
		r.suppressed(msg, &res)
	}
	return res
}

func (r *Router) deliver(ctx context.Context, msg *domain.Message) domain.DeliveryResult {
	start := time.Now()

	chain := r.resolve(msg.Hint)
	handles := make([]bool, len(chain))
	routable := false
	for i, s := range chain {
		handles[i] = canHandle(s, msg.Recipient)
		routable = routable || handles[i]
	}

	if !routable {
		err := &domain.NoRouteError{Recipient: msg.Recipient, Hint: msg.Hint}
		msg.AppendAttempt(domain.DeliveryAttempt{
			Strategy: domain.RouterStrategyName,
			Outcome:  domain.OutcomeFailure,
			Error:    err.Error(),
		})
		return r.finish(ctx, msg, start, "", domain.ReasonNoRoute, err)
	}

	var (
		tried   []string
		lastErr error
	)
	for i, s := range chain {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, msg, start, "", domain.ReasonCanceled, canceledError(msg, err, lastErr))
		}
		if !handles[i] {
			msg.AppendAttempt(domain.DeliveryAttempt{Strategy: s.Name(), Outcome: domain.OutcomeSkipped})
			r.observeAttempt(msg, s.Name(), domain.OutcomeSkipped, 0, nil)
			continue
		}

		tried = append(tried, s.Name())
		err := r.attempt(ctx, s, msg)
		if err == nil {
			if len(tried) > 1 {
				r.logger.Info("delivered via fallback strategy", "id", msg.ID, "recipient", msg.Recipient, "strategy", s.Name())
			}
			return r.finish(ctx, msg, start, s.Name(), domain.ReasonNone, nil)
		}
		lastErr = err
		if cerr := ctx.Err(); cerr != nil {
			return r.finish(ctx, msg, start, "", domain.ReasonCanceled, canceledError(msg, cerr, lastErr))
		}
		r.logger.Warn("strategy failed, trying next", "id", msg.ID, "recipient", msg.Recipient, "strategy", s.Name(), "err", err)
	}

	return r.finish(ctx, msg, start, "", domain.ReasonAllStrategiesFailed, &domain.AllStrategiesFailedError{
		Recipient: msg.Recipient,
		Tried:     tried,
		Last:      lastErr,
	})
}

// resolve maps a hint to its chain. Unregistered explicit hints yield an
// empty chain, which becomes NO_ROUTE.
func (r *Router) resolve(hint domain.DeliveryHint) []domain.Strategy {
	if hint == "" || hint == domain.HintAuto {
		chain := make([]domain.Strategy, 0, len(r.autoOrder))
		for _, name := range r.autoOrder {
			chain = append(chain, r.strategies[name])
		}
		return chain
	}
	if s, ok := r.strategies[string(hint)]; ok {
		return []domain.Strategy{s}
	}
	return nil
}

func (r *Router) duplicate(ctx context.Context, msg *domain.Message) (domain.DeliveryResult, bool) {
	prior, err := r.ledger.Lookup(ctx, msg.ID)
	if err != nil {
		r.logger.Warn("ledger lookup failed, delivering anyway", "id", msg.ID, "err", err)
		return domain.DeliveryResult{}, false
	}
	if prior == nil || !prior.Succeeded() {
		return domain.DeliveryResult{}, false
	}
	res := *prior
	res.Attempts = append([]domain.DeliveryAttempt(nil), prior.Attempts...)
	r.suppressed(msg, &res)
	return res, true
}

// suppressed marks res as a repeat of an earlier success for msg.
func (r *Router) suppressed(msg *domain.Message, res *domain.DeliveryResult) {
	res.Duplicate = true
	r.logger.Info("duplicate message suppressed", "id", msg.ID, "recipient", msg.Recipient, "strategy", res.Strategy)
	r.emit(bus.EventDeliveryDuplicate, msg, map[string]any{"strategy": res.Strategy})
	r.metrics.Counter(metrics.DeliveriesTotal, "Terminal delivery results.",
		metrics.Labels("outcome", "DUPLICATE", "reason", "")).Inc()
}

func (r *Router) finish(ctx context.Context, msg *domain.Message, start time.Time, strategy string, reason domain.FailureReason, err error) domain.DeliveryResult {
	res := domain.DeliveryResult{
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		Recipient:   msg.Recipient,
		Priority:    msg.Priority,
		Hint:        msg.Hint,
		Outcome:     domain.OutcomeSuccess,
		Strategy:    strategy,
		Reason:      reason,
		Err:         err,
		Attempts:    msg.Attempts(),
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		res.Outcome = domain.OutcomeFailure
		res.Error = err.Error()
	}

	// The ledger write must survive a canceled caller.
	if lerr := r.ledger.Record(context.WithoutCancel(ctx), res); lerr != nil {
		r.logger.Error("record delivery result", "id", msg.ID, "err", lerr)
	}

	r.metrics.Counter(metrics.DeliveriesTotal, "Terminal delivery results.",
		metrics.Labels("outcome", string(res.Outcome), "reason", string(reason))).Inc()
	r.metrics.Histogram(metrics.DeliveryLatency, "Time from Deliver to terminal result.", "",
		metrics.LatencyBuckets).Observe(time.Since(start).Seconds())

	switch {
	case res.Succeeded():
		r.logger.Info("message delivered", "id", msg.ID, "recipient", msg.Recipient, "strategy", strategy, "attempts", len(res.Attempts))
		r.emit(bus.EventDeliverySucceeded, msg, map[string]any{"strategy": strategy})
	case reason == domain.ReasonNoRoute:
		r.logger.Warn("no route for message", "id", msg.ID, "recipient", msg.Recipient, "hint", string(msg.Hint))
		r.emit(bus.EventDeliveryNoRoute, msg, map[string]any{"reason": string(reason)})
	default:
		r.logger.Warn("delivery failed", "id", msg.ID, "recipient", msg.Recipient, "reason", string(reason), "err", err)
		r.emit(bus.EventDeliveryFailed, msg, map[string]any{"reason": string(reason), "error": res.Error})
	}
	return res
}

func (r *Router) observeAttempt(msg *domain.Message, strategy string, outcome domain.Outcome, try int, err error) {
	r.metrics.Counter(metrics.AttemptsTotal, "Strategy attempts by outcome.",
		metrics.Labels("strategy", strategy, "outcome", string(outcome))).Inc()
	payload := map[string]any{"strategy": strategy, "outcome": string(outcome), "try": try}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.emit(bus.EventDeliveryAttempt, msg, payload)
}

func (r *Router) emit(eventType string, msg *domain.Message, payload map[string]any) {
	if r.events == nil {
		return
	}
	payload["message_id"] = msg.ID
	payload["sender"] = msg.Sender
	payload["recipient"] = msg.Recipient
	r.events.Emit(bus.Event{Type: eventType, Source: "router", Payload: payload})
}

func canHandle(s domain.Strategy, recipient string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return s.CanHandle(recipient)
}

func canceledError(msg *domain.Message, cause, last error) error {
	if last == nil {
		return fmt.Errorf("delivery to %q canceled: %w", msg.Recipient, cause)
	}
	return fmt.Errorf("delivery to %q canceled after: %v: %w", msg.Recipient, last, cause)
}
