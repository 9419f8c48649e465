package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/domain"
	"agentrelay/internal/metrics"
)

// mockRouter delivers everything except recipients listed in fail.
type mockRouter struct {
	mu   sync.Mutex
	seen []string
	fail map[string]domain.FailureReason
}

func (m *mockRouter) Deliver(_ context.Context, msg *domain.Message) domain.DeliveryResult {
	m.mu.Lock()
	m.seen = append(m.seen, msg.Content)
	m.mu.Unlock()
	res := domain.DeliveryResult{MessageID: msg.ID, Recipient: msg.Recipient, Outcome: domain.OutcomeSuccess, Strategy: "INBOX_FILE"}
	if reason, ok := m.fail[msg.Recipient]; ok {
		res.Outcome = domain.OutcomeFailure
		res.Strategy = ""
		res.Reason = reason
	}
	return res
}

func (m *mockRouter) contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func newTestSpool(t *testing.T, r Deliverer) *Spool {
	t.Helper()
	s := New(Options{Dir: t.TempDir(), Router: r, Metrics: metrics.NewCollector("test"), ScanInterval: 50 * time.Millisecond})
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEnqueueDrain_OrderAndFiling(t *testing.T) {
	r := &mockRouter{fail: map[string]domain.FailureReason{"Agent-3": domain.ReasonNoRoute}}
	s := newTestSpool(t, r)

	for _, m := range []*domain.Message{
		domain.NewMessage("a", "Agent-1", "first", "", ""),
		domain.NewMessage("a", "Agent-3", "second", "", ""),
		domain.NewMessage("a", "Agent-2", "third", "", ""),
	} {
		if _, err := s.Enqueue(m); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	n, err := s.Drain(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3 files processed, got %d %v", n, err)
	}
	got := r.contents()
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("delivery order should follow enqueue order, got %v", got)
	}
	pending, done, failed := s.Counts()
	if pending != 0 || done != 2 || failed != 1 {
		t.Fatalf("unexpected counts pending=%d done=%d failed=%d", pending, done, failed)
	}
	sidecars, _ := filepath.Glob(filepath.Join(s.dir, failedDir, "*.result.json"))
	if len(sidecars) != 1 {
		t.Fatalf("expected a result sidecar for the failed file, got %v", sidecars)
	}
}

func TestDrain_UndecodableGoesToFailed(t *testing.T) {
	s := newTestSpool(t, &mockRouter{})
	os.WriteFile(filepath.Join(s.dir, pendingDir, "20260101T000000.000000000Z_bad.md"), []byte("not a record"), 0o644)

	if n, _ := s.Drain(context.Background()); n != 1 {
		t.Fatalf("expected bad file to be filed, got %d", n)
	}
	if _, _, failed := s.Counts(); failed != 1 {
		t.Fatal("bad file should be in failed/")
	}
}

func TestDrain_CanceledStaysPending(t *testing.T) {
	r := &mockRouter{fail: map[string]domain.FailureReason{"Agent-1": domain.ReasonCanceled}}
	s := newTestSpool(t, r)
	s.Enqueue(domain.NewMessage("a", "Agent-1", "x", "", ""))

	s.Drain(context.Background())
	if pending, _, _ := s.Counts(); pending != 1 {
		t.Fatal("canceled deliveries must stay pending")
	}
}

func TestRun_DeliversNewFiles(t *testing.T) {
	r := &mockRouter{}
	s := newTestSpool(t, r)
	events := bus.NewEventBus(10, nil)
	s.events = events

	s.Enqueue(domain.NewMessage("a", "Agent-1", "before start", "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	enqueued := false
	for {
		if len(r.contents()) == 1 && !enqueued {
			s.Enqueue(domain.NewMessage("a", "Agent-2", "after start", "", ""))
			enqueued = true
		}
		if len(r.contents()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not deliver both files, got %v", r.contents())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := r.contents(); got[0] != "before start" || got[1] != "after start" {
		t.Fatalf("unexpected order %v", got)
	}
	if len(events.Replay(bus.EventSpoolAccepted, time.Time{})) != 2 {
		t.Fatal("expected a spool.accepted event per file")
	}
}

func TestRun_RequiresRouter(t *testing.T) {
	s := New(Options{Dir: t.TempDir()})
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error without router")
	}
}
