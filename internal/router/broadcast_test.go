package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentrelay/internal/domain"
)

// contentLog records what each recipient received, in order.
type contentLog struct {
	name    string
	handles func(string) bool
	mu      sync.Mutex
	got     map[string][]string

	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func newContentLog(name string) *contentLog {
	return &contentLog{name: name, handles: func(string) bool { return true }, got: make(map[string][]string)}
}

func (c *contentLog) Name() string            { return c.name }
func (c *contentLog) CanHandle(r string) bool { return c.handles(r) }
func (c *contentLog) Send(_ context.Context, msg *domain.Message) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(c.delay)
	c.mu.Lock()
	c.got[msg.Recipient] = append(c.got[msg.Recipient], msg.Content)
	c.mu.Unlock()
	return nil
}

func TestBroadcast_PartialFailure(t *testing.T) {
	s := newContentLog("INBOX_FILE")
	s.handles = func(r string) bool { return r != "B" }
	r := newTestRouter(t, Config{Strategies: []domain.Strategy{s}})

	msgs := NewBroadcast("Agent-0", []string{"A", "B", "C"}, "sync up", domain.PriorityNormal, domain.HintAuto)
	results := r.Broadcast(context.Background(), msgs)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results["B"].Reason != domain.ReasonNoRoute {
		t.Fatalf("B should be NO_ROUTE, got %+v", results["B"])
	}
	for _, rcpt := range []string{"A", "C"} {
		if !results[rcpt].Succeeded() {
			t.Errorf("%s should succeed despite B, got %+v", rcpt, results[rcpt])
		}
		if len(s.got[rcpt]) != 1 {
			t.Errorf("%s should be sent to once, got %v", rcpt, s.got[rcpt])
		}
	}
}

func TestBroadcast_DropsRepeatedContentPerRecipient(t *testing.T) {
	s := newContentLog("INBOX_FILE")
	r := newTestRouter(t, Config{Strategies: []domain.Strategy{s}})

	msgs := []*domain.Message{
		domain.NewMessage("x", "A", "one", "", ""),
		domain.NewMessage("x", "A", "two", "", ""),
		domain.NewMessage("x", "A", "one", "", ""),
		domain.NewMessage("x", "B", "one", "", ""),
	}
	results := r.Broadcast(context.Background(), msgs)

	if got := s.got["A"]; !equal(got, []string{"one", "two"}) {
		t.Fatalf("A should receive one then two exactly once each, got %v", got)
	}
	if got := s.got["B"]; !equal(got, []string{"one"}) {
		t.Fatalf("identical content for a different recipient is still delivered, got %v", got)
	}
	if results["A"].MessageID != msgs[1].ID {
		t.Fatalf("A's result should be its last delivered message")
	}
}

func TestBroadcast_RespectsWorkerLimit(t *testing.T) {
	s := newContentLog("INBOX_FILE")
	s.delay = 10 * time.Millisecond
	r := newTestRouter(t, Config{Strategies: []domain.Strategy{s}, Workers: 2})

	recipients := []string{"A", "B", "C", "D", "E", "F"}
	results := r.Broadcast(context.Background(), NewBroadcast("x", recipients, "hi", "", ""))
	if len(results) != len(recipients) {
		t.Fatalf("expected %d results, got %d", len(recipients), len(results))
	}
	if n := s.maxSeen.Load(); n > 2 {
		t.Fatalf("pool exceeded worker limit: %d concurrent sends", n)
	}
}

func TestBroadcast_Empty(t *testing.T) {
	r := newTestRouter(t, Config{Strategies: []domain.Strategy{newContentLog("INBOX_FILE")}})
	if got := r.Broadcast(context.Background(), nil); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestRecipients(t *testing.T) {
	msgs := NewBroadcast("x", []string{"B", "A", "B"}, "hi", "", "")
	if got := Recipients(msgs); !equal(got, []string{"B", "A"}) {
		t.Fatalf("unexpected recipients %v", got)
	}
}
