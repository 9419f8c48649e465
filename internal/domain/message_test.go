package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewMessage_Defaults(t *testing.T) {
	m := NewMessage("Agent-0", "Agent-1", "hello", "", "")
	if m.ID == "" {
		t.Fatal("expected generated ID")
	}
	if m.Priority != PriorityNormal {
		t.Errorf("expected NORMAL priority, got %s", m.Priority)
	}
	if m.Hint != HintAuto {
		t.Errorf("expected AUTO hint, got %s", m.Hint)
	}
	if m.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	other := NewMessage("Agent-0", "Agent-1", "hello", "", "")
	if other.ID == m.ID {
		t.Fatal("expected unique IDs")
	}
}

func TestMessage_AttemptsAreCopied(t *testing.T) {
	m := NewMessage("a", "b", "c", PriorityHigh, HintInboxFile)
	m.AppendAttempt(DeliveryAttempt{Strategy: "INBOX_FILE", Outcome: OutcomeFailure, Error: "disk full"})

	got := m.Attempts()
	got[0].Outcome = OutcomeSuccess

	if m.Attempts()[0].Outcome != OutcomeFailure {
		t.Fatal("mutating the returned slice must not change the history")
	}
	if m.Attempts()[0].AttemptedAt.IsZero() {
		t.Fatal("expected AttemptedAt to be stamped")
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"":        PriorityNormal,
		"low":     PriorityLow,
		"Normal":  PriorityNormal,
		"HIGH":    PriorityHigh,
		" urgent": PriorityUrgent,
	}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil {
			t.Fatalf("ParsePriority(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePriority(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParsePriority("critical"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestParseHint(t *testing.T) {
	cases := map[string]DeliveryHint{
		"":               HintAuto,
		"auto":           HintAuto,
		"gui_automation": HintGUIAutomation,
		"INBOX_FILE":     HintInboxFile,
	}
	for in, want := range cases {
		got, err := ParseHint(in)
		if err != nil {
			t.Fatalf("ParseHint(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseHint(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseHint("discord"); err == nil {
		t.Fatal("expected error for unknown hint")
	}
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("focus lost")

	if !IsRetryable(Transient("GUI_AUTOMATION", base)) {
		t.Error("transient error should be retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", Transient("GUI_AUTOMATION", base))) {
		t.Error("wrapped transient error should be retryable")
	}
	if IsRetryable(Permanent("INBOX_FILE", base)) {
		t.Error("permanent error should not be retryable")
	}
	if IsRetryable(base) {
		t.Error("unclassified error should not be retryable")
	}
	if Transient("x", nil) != nil || Permanent("x", nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestAllStrategiesFailedError_Unwrap(t *testing.T) {
	last := Permanent("INBOX_FILE", errors.New("permission denied"))
	err := &AllStrategiesFailedError{Recipient: "Agent-2", Tried: []string{"INBOX_FILE"}, Last: last}

	var pe *PermanentDeliveryError
	if !errors.As(err, &pe) {
		t.Fatal("expected to unwrap to PermanentDeliveryError")
	}
	if pe.Strategy != "INBOX_FILE" {
		t.Errorf("unexpected strategy %q", pe.Strategy)
	}
}
