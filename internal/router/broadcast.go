package router

import (
	"context"
	"sync"

	"agentrelay/internal/domain"
	"agentrelay/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Broadcast delivers every message and returns the result per recipient.
//
// Recipients are delivered concurrently on a pool of Workers goroutines.
// Messages to the same recipient run one after another in input order, and a
// message repeating content already seen for that recipient in this batch is
// dropped. The map holds the last delivered result for each recipient. There
// is no atomicity across the batch.
func (r *Router) Broadcast(ctx context.Context, msgs []*domain.Message) map[string]domain.DeliveryResult {
	order, groups := r.group(msgs)
	results := make(map[string]domain.DeliveryResult, len(order))
	if len(order) == 0 {
		return results
	}

	inflight := r.metrics.Gauge(metrics.BroadcastInflight, "Recipients currently being delivered by Broadcast.", "")
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers)
	for _, recipient := range order {
		batch := groups[recipient]
		g.Go(func() error {
			inflight.Inc()
			defer inflight.Dec()
			var last domain.DeliveryResult
			for _, msg := range batch {
				last = r.Deliver(ctx, msg)
			}
			mu.Lock()
			results[recipient] = last
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Router) group(msgs []*domain.Message) ([]string, map[string][]*domain.Message) {
	var order []string
	groups := make(map[string][]*domain.Message)
	seen := make(map[string]map[string]bool)
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		contents, ok := seen[msg.Recipient]
		if !ok {
			contents = make(map[string]bool)
			seen[msg.Recipient] = contents
			order = append(order, msg.Recipient)
		}
		if contents[msg.Content] {
			r.logger.Debug("dropping repeated broadcast content", "id", msg.ID, "recipient", msg.Recipient)
			continue
		}
		contents[msg.Content] = true
		groups[msg.Recipient] = append(groups[msg.Recipient], msg)
	}
	return order, groups
}

// Recipients lists the distinct recipients of msgs in first-seen order.
func Recipients(msgs []*domain.Message) []string {
	var out []string
	seen := make(map[string]bool)
	for _, msg := range msgs {
		if msg == nil || seen[msg.Recipient] {
			continue
		}
		seen[msg.Recipient] = true
		out = append(out, msg.Recipient)
	}
	return out
}

// NewBroadcast builds one message per recipient with shared content.
// Each message gets its own ID.
func NewBroadcast(sender string, recipients []string, content string, priority domain.Priority, hint domain.DeliveryHint) []*domain.Message {
	msgs := make([]*domain.Message, 0, len(recipients))
	for _, r := range recipients {
		msgs = append(msgs, domain.NewMessage(sender, r, content, priority, hint))
	}
	return msgs
}
