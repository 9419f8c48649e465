package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"agentrelay/internal/domain"
)

// Action is one recorded input operation.
type Action struct {
	Kind  string // click | clear | paste | type | linebreak | enter
	Point domain.Point
	Text  string
}

func (a Action) String() string {
	switch a.Kind {
	case "click":
		return "click " + a.Point.String()
	case "paste", "type":
		return fmt.Sprintf("%s %q", a.Kind, a.Text)
	default:
		return a.Kind
	}
}

// Recorder is an in-memory Automator. It backs dry runs and tests, and can be
// told to fail the next N operations of a given kind.
type Recorder struct {
	mu      sync.Mutex
	actions []Action
	fail    map[string][]error
	logger  *slog.Logger
}

// NewRecorder creates an empty Recorder. A nil logger disables logging.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{fail: make(map[string][]error), logger: logger}
}

// FailNext queues errs to be returned by the next operations of kind, in order.
func (r *Recorder) FailNext(kind string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[kind] = append(r.fail[kind], errs...)
}

// Actions returns a copy of everything recorded so far.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Reset drops recorded actions and pending failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
	r.fail = make(map[string][]error)
}

func (r *Recorder) do(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if q := r.fail[a.Kind]; len(q) > 0 {
		err := q[0]
		r.fail[a.Kind] = q[1:]
		return err
	}
	r.actions = append(r.actions, a)
	if r.logger != nil {
		r.logger.Debug("automation", "action", a.String())
	}
	return nil
}

func (r *Recorder) Click(ctx context.Context, p domain.Point) error {
	return r.do(ctx, Action{Kind: "click", Point: p})
}

func (r *Recorder) ClearInput(ctx context.Context) error {
	return r.do(ctx, Action{Kind: "clear"})
}

func (r *Recorder) Paste(ctx context.Context, text string) error {
	return r.do(ctx, Action{Kind: "paste", Text: text})
}

func (r *Recorder) Type(ctx context.Context, text string) error {
	return r.do(ctx, Action{Kind: "type", Text: text})
}

func (r *Recorder) LineBreak(ctx context.Context) error {
	return r.do(ctx, Action{Kind: "linebreak"})
}

func (r *Recorder) PressEnter(ctx context.Context) error {
	return r.do(ctx, Action{Kind: "enter"})
}

func (r *Recorder) Close() error { return nil }
