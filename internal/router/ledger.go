package router

import (
	"context"
	"sync"

	"agentrelay/internal/domain"
)

// DefaultLedgerSize bounds a MemoryLedger built by NewMemoryLedger.
const DefaultLedgerSize = 10000

// MemoryLedger keeps terminal results in process memory. It is the default
// when no persistent ledger is configured. Once full, the oldest message IDs
// are forgotten first.
type MemoryLedger struct {
	mu      sync.RWMutex
	max     int
	order   []string
	results map[string]domain.DeliveryResult
}

// NewMemoryLedger creates an empty ledger holding up to DefaultLedgerSize IDs.
func NewMemoryLedger() *MemoryLedger {
	return NewMemoryLedgerSize(DefaultLedgerSize)
}

// NewMemoryLedgerSize creates an empty ledger holding up to max IDs.
func NewMemoryLedgerSize(max int) *MemoryLedger {
	if max < 1 {
		max = DefaultLedgerSize
	}
	return &MemoryLedger{max: max, results: make(map[string]domain.DeliveryResult)}
}

func (l *MemoryLedger) Lookup(_ context.Context, id string) (*domain.DeliveryResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

// Record stores res. A stored success is never replaced by a later failure.
func (l *MemoryLedger) Record(_ context.Context, res domain.DeliveryResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.results[res.MessageID]
	if ok && prev.Succeeded() && !res.Succeeded() {
		return nil
	}
	l.results[res.MessageID] = res
	if ok {
		return nil
	}
	l.order = append(l.order, res.MessageID)
	for len(l.order) > l.max {
		delete(l.results, l.order[0])
		l.order = l.order[1:]
	}
	return nil
}

// Len returns the number of recorded messages.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}
