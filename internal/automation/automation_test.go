package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agentrelay/internal/domain"
)

var (
	_ Automator = (*Browser)(nil)
	_ Automator = (*Recorder)(nil)
)

func TestRecorder_RecordsInOrder(t *testing.T) {
	r := NewRecorder(nil)
	ctx := context.Background()

	r.Click(ctx, domain.Point{X: 100, Y: 200})
	r.ClearInput(ctx)
	r.Paste(ctx, "hello")
	r.LineBreak(ctx)
	r.PressEnter(ctx)

	got := r.Actions()
	want := []string{"click (100, 200)", "clear", `paste "hello"`, "linebreak", "enter"}
	if len(got) != len(want) {
		t.Fatalf("expected %d actions, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("action %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBrowser_TypeRejectsMultiLineText(t *testing.T) {
	b := NewBrowser(BrowserConfig{URL: "about:blank", ProfileDir: t.TempDir()})
	defer b.Close()
	if err := b.Type(context.Background(), "one\ntwo"); err == nil {
		t.Fatal("typing a newline would press Enter mid-message")
	}
}

func TestRecorder_FailNext(t *testing.T) {
	r := NewRecorder(nil)
	ctx := context.Background()
	r.FailNext("paste", ErrFocusLost)

	if err := r.Paste(ctx, "x"); !errors.Is(err, ErrFocusLost) {
		t.Fatalf("expected ErrFocusLost, got %v", err)
	}
	if err := r.Paste(ctx, "x"); err != nil {
		t.Fatalf("second paste should succeed, got %v", err)
	}
	if n := len(r.Actions()); n != 1 {
		t.Fatalf("failed operations must not be recorded, got %d actions", n)
	}
}

func TestRecorder_CanceledContext(t *testing.T) {
	r := NewRecorder(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Click(ctx, domain.Point{}); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("paste: %w", ErrFocusLost)) {
		t.Error("wrapped ErrFocusLost should be transient")
	}
	if !IsTransient(ErrNotReady) {
		t.Error("ErrNotReady should be transient")
	}
	if IsTransient(errors.New("chrome crashed")) {
		t.Error("unrelated error should not be transient")
	}
}

func TestClassify_DeadlineIsNotReady(t *testing.T) {
	err := classify(fmt.Errorf("click: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	other := errors.New("boom")
	if classify(other) != other {
		t.Fatal("other errors should pass through")
	}
}

func TestPacer_Burst(t *testing.T) {
	p := NewPacer(3, 60)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("burst %d: %v", i, err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("burst sends should not wait")
	}
}

func TestPacer_WaitsAfterBurst(t *testing.T) {
	p := NewPacer(1, 600) // 10 per second
	ctx := context.Background()
	p.Wait(ctx)

	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected the second send to wait for a token")
	}
}

func TestPacer_CanceledContext(t *testing.T) {
	p := NewPacer(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Wait(ctx)
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPacer_Defaults(t *testing.T) {
	p := NewPacer(0, 0)
	if p.max != 5 || p.rate != 1 {
		t.Fatalf("unexpected defaults max=%v rate=%v", p.max, p.rate)
	}
}
