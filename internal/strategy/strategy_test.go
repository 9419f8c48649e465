package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentrelay/internal/automation"
	"agentrelay/internal/domain"
	"agentrelay/internal/inbox"
)

type mapCoords map[string]domain.Point

func (m mapCoords) GetCoordinates(r string) (domain.Point, bool) {
	p, ok := m[r]
	return p, ok
}

type failingInbox struct{ err error }

func (f failingInbox) ResolvePath(r string) (string, bool) { return "/nowhere/" + r, true }
func (f failingInbox) AppendRecord(string, []byte) (string, error) {
	return "", f.err
}

func TestGUI_CanHandle(t *testing.T) {
	g := NewGUI(GUIOptions{Coords: mapCoords{"Agent-1": {X: 100, Y: 200}}, Automator: automation.NewRecorder(nil)})
	if !g.CanHandle("Agent-1") {
		t.Error("Agent-1 has coordinates")
	}
	if g.CanHandle("Agent-2") {
		t.Error("Agent-2 has no coordinates")
	}
	if g.Name() != "GUI_AUTOMATION" {
		t.Errorf("unexpected name %q", g.Name())
	}
}

func TestGUI_SendSequence(t *testing.T) {
	rec := automation.NewRecorder(nil)
	g := NewGUI(GUIOptions{Coords: mapCoords{"Agent-1": {X: 100, Y: 200}}, Automator: rec})

	msg := domain.NewMessage("Agent-0", "Agent-1", "status?", "", "")
	if err := g.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := []string{"click (100, 200)", "clear", `paste "status?"`, "enter"}
	got := rec.Actions()
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("step %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGUI_TypeMode(t *testing.T) {
	rec := automation.NewRecorder(nil)
	g := NewGUI(GUIOptions{
		Coords:    mapCoords{"Agent-1": {X: 1, Y: 1}},
		Automator: rec,
		InputMode: automation.InputType,
	})
	g.Send(context.Background(), domain.NewMessage("a", "Agent-1", "hi", "", ""))
	if acts := rec.Actions(); len(acts) != 4 || acts[2].Kind != "type" {
		t.Fatalf("expected type injection, got %v", acts)
	}
}

func TestGUI_TypeModeKeepsLinesInOneMessage(t *testing.T) {
	rec := automation.NewRecorder(nil)
	g := NewGUI(GUIOptions{
		Coords:    mapCoords{"Agent-1": {X: 1, Y: 1}},
		Automator: rec,
		InputMode: automation.InputType,
	})
	msg := domain.NewMessage("a", "Agent-1", "status:\r\nbuild ok\n\ndone", "", "")
	if err := g.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := []string{
		"click (1, 1)", "clear",
		`type "status:"`, "linebreak", `type "build ok"`, "linebreak", "linebreak", `type "done"`,
		"enter",
	}
	got := rec.Actions()
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	enters := 0
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("step %d: got %q, want %q", i, got[i], want[i])
		}
		if got[i].Kind == "enter" {
			enters++
		}
	}
	if enters != 1 {
		t.Fatalf("multi-line content must be committed once, got %d enters", enters)
	}
}

func TestGUI_LineBreakFailureIsClassified(t *testing.T) {
	rec := automation.NewRecorder(nil)
	rec.FailNext("linebreak", automation.ErrFocusLost)
	g := NewGUI(GUIOptions{Coords: mapCoords{"Agent-1": {}}, Automator: rec, InputMode: automation.InputType})

	err := g.Send(context.Background(), domain.NewMessage("a", "Agent-1", "one\ntwo", "", ""))
	if !domain.IsRetryable(err) {
		t.Fatalf("lost focus on a line break should be transient, got %v", err)
	}
	for _, a := range rec.Actions() {
		if a.Kind == "enter" {
			t.Fatal("a failed line break must not commit the input")
		}
	}
}

func TestGUI_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		kind      string
		err       error
		transient bool
	}{
		{"focus lost", "paste", automation.ErrFocusLost, true},
		{"not ready", "click", automation.ErrNotReady, true},
		{"deadline", "enter", context.DeadlineExceeded, true},
		{"crash", "click", errors.New("target closed"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := automation.NewRecorder(nil)
			rec.FailNext(tc.kind, tc.err)
			g := NewGUI(GUIOptions{Coords: mapCoords{"Agent-1": {}}, Automator: rec})

			err := g.Send(context.Background(), domain.NewMessage("a", "Agent-1", "x", "", ""))
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.IsRetryable(err) != tc.transient {
				t.Fatalf("retryable=%v, want %v (%v)", domain.IsRetryable(err), tc.transient, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause not preserved: %v", err)
			}
		})
	}
}

func TestGUI_UnknownRecipientIsPermanent(t *testing.T) {
	g := NewGUI(GUIOptions{Coords: mapCoords{}, Automator: automation.NewRecorder(nil)})
	err := g.Send(context.Background(), domain.NewMessage("a", "nobody", "x", "", ""))
	var pe *domain.PermanentDeliveryError
	if !errors.As(err, &pe) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

// slowAutomator tracks how many clicks overlap.
type slowAutomator struct {
	*automation.Recorder
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *slowAutomator) Click(ctx context.Context, p domain.Point) error {
	n := s.active.Add(1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return nil
}

func TestGUI_CursorIsExclusiveAcrossInstances(t *testing.T) {
	shared := &slowAutomator{Recorder: automation.NewRecorder(nil)}
	coords := mapCoords{"Agent-1": {X: 1, Y: 1}, "Agent-2": {X: 2, Y: 2}}
	a := NewGUI(GUIOptions{Coords: coords, Automator: shared})
	b := NewGUI(GUIOptions{Coords: coords, Automator: shared})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		g := a
		if i%2 == 1 {
			g = b
		}
		go func() {
			defer wg.Done()
			g.Send(context.Background(), domain.NewMessage("x", "Agent-1", "hi", "", ""))
		}()
	}
	wg.Wait()
	if shared.maxSeen.Load() != 1 {
		t.Fatalf("GUI sends overlapped: max concurrent clicks %d", shared.maxSeen.Load())
	}
}

func TestInbox_SendRoundTrip(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "Agent-2"), 0o755)
	store := inbox.NewStore(root, false, nil)
	s := NewInbox(store, nil)

	if !s.CanHandle("Agent-2") || s.CanHandle("Agent-3") {
		t.Fatal("CanHandle should follow workspace existence")
	}

	msg := domain.NewMessage("Agent-0", "Agent-2", "line1\nline2", domain.PriorityUrgent, domain.HintInboxFile)
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	records, err := store.List("Agent-2")
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d (%v)", len(records), err)
	}
	got := records[0]
	if got.ID != msg.ID || got.Sender != msg.Sender || got.Recipient != msg.Recipient ||
		got.Content != msg.Content || got.Priority != msg.Priority || !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("record does not reconstruct message: %+v", got)
	}
}

func TestInbox_IOErrorsArePermanent(t *testing.T) {
	s := NewInbox(failingInbox{err: os.ErrPermission}, nil)
	err := s.Send(context.Background(), domain.NewMessage("a", "Agent-2", "x", "", ""))
	if err == nil || domain.IsRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("cause not preserved: %v", err)
	}
}
