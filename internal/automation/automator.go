// Package automation simulates the single cursor and keyboard that GUI
// delivery drives. Implementations are not safe for concurrent use; callers
// serialize access (see strategy.GUIStrategy).
package automation

import (
	"context"
	"errors"

	"agentrelay/internal/domain"
)

var (
	// ErrFocusLost means the target input did not hold focus when text was injected.
	ErrFocusLost = errors.New("automation: target lost focus")
	// ErrNotReady means the automation surface was not ready in time.
	ErrNotReady = errors.New("automation: surface not ready")
)

// InputMode selects how text is injected.
type InputMode string

const (
	// InputPaste inserts the whole text in one operation, like a clipboard paste.
	InputPaste InputMode = "paste"
	// InputType sends one key event per character.
	InputType InputMode = "type"
)

// Automator is the simulated input device.
type Automator interface {
	// Click moves the cursor to p and clicks.
	Click(ctx context.Context, p domain.Point) error
	// ClearInput removes any text already in the focused input.
	ClearInput(ctx context.Context) error
	// Paste injects text in a single operation.
	Paste(ctx context.Context, text string) error
	// Type injects a single line one keystroke at a time.
	Type(ctx context.Context, text string) error
	// LineBreak starts a new line in the input without committing it.
	LineBreak(ctx context.Context) error
	// PressEnter sends the commit key.
	PressEnter(ctx context.Context) error
	Close() error
}

// IsTransient reports whether err is a focus/readiness failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFocusLost) || errors.Is(err, ErrNotReady)
}
