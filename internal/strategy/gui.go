// Package strategy holds the delivery strategies the router chains together.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"agentrelay/internal/automation"
	"agentrelay/internal/domain"
)

// Strategy names match the hint that selects them.
const (
	GUIName   = string(domain.HintGUIAutomation)
	InboxName = string(domain.HintInboxFile)
)

// There is one physical cursor, so every GUIStrategy in the process shares it.
var cursorMu sync.Mutex

// GUIOptions configures a GUIStrategy.
type GUIOptions struct {
	Coords    domain.CoordinateStore
	Automator automation.Automator
	Pacer     *automation.Pacer // nil disables pacing
	InputMode automation.InputMode
	Logger    *slog.Logger
}

// GUIStrategy delivers by clicking the recipient's input on the automation
// surface, injecting the content and pressing Enter. Success means the
// injection completed; there is no acknowledgement from the recipient.
type GUIStrategy struct {
	coords    domain.CoordinateStore
	automator automation.Automator
	pacer     *automation.Pacer
	mode      automation.InputMode
	logger    *slog.Logger
}

// NewGUI creates a GUI strategy.
func NewGUI(opts GUIOptions) *GUIStrategy {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InputMode == "" {
		opts.InputMode = automation.InputPaste
	}
	return &GUIStrategy{
		coords:    opts.Coords,
		automator: opts.Automator,
		pacer:     opts.Pacer,
		mode:      opts.InputMode,
		logger:    opts.Logger,
	}
}

func (g *GUIStrategy) Name() string { return GUIName }

// CanHandle reports whether the recipient has a registered position.
func (g *GUIStrategy) CanHandle(recipient string) bool {
	if g.coords == nil {
		return false
	}
	_, ok := g.coords.GetCoordinates(recipient)
	return ok
}

// Send drives the automator while holding the cursor lock.
func (g *GUIStrategy) Send(ctx context.Context, msg *domain.Message) error {
	point, ok := g.coords.GetCoordinates(msg.Recipient)
	if !ok {
		return domain.Permanent(GUIName, fmt.Errorf("no coordinates for %q", msg.Recipient))
	}

	cursorMu.Lock()
	defer cursorMu.Unlock()

	if g.pacer != nil {
		if err := g.pacer.Wait(ctx); err != nil {
			return domain.Transient(GUIName, fmt.Errorf("pacer: %w", err))
		}
	}

	g.logger.Debug("gui send", "recipient", msg.Recipient, "point", point.String(), "mode", string(g.mode), "bytes", len(msg.Content))

	if err := g.automator.Click(ctx, point); err != nil {
		return g.classify("click", err)
	}
	if err := g.automator.ClearInput(ctx); err != nil {
		return g.classify("clear input", err)
	}
	if g.mode == automation.InputType {
		if err := g.typeLines(ctx, msg.Content); err != nil {
			return err
		}
	} else if err := g.automator.Paste(ctx, msg.Content); err != nil {
		return g.classify(string(g.mode), err)
	}
	if err := g.automator.PressEnter(ctx); err != nil {
		return g.classify("enter", err)
	}
	return nil
}

// typeLines types content line by line. Newlines become line breaks so the
// message is committed once, by the final Enter.
func (g *GUIStrategy) typeLines(ctx context.Context, content string) error {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if i > 0 {
			if err := g.automator.LineBreak(ctx); err != nil {
				return g.classify("line break", err)
			}
		}
		if line == "" {
			continue
		}
		if err := g.automator.Type(ctx, line); err != nil {
			return g.classify(string(g.mode), err)
		}
	}
	return nil
}

func (g *GUIStrategy) classify(step string, err error) error {
	err = fmt.Errorf("%s: %w", step, err)
	if automation.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(GUIName, err)
	}
	return domain.Permanent(GUIName, err)
}
