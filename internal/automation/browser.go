package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentrelay/internal/domain"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Browser drives the agents' console page in Chrome through chromedp.
// The page is the automation surface: coordinates are CSS pixels in its viewport.
type Browser struct {
	url           string
	profileDir    string
	headless      bool
	width, height int
	actionTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	tabCtx  context.Context
	closeFn context.CancelFunc
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	URL           string // console page that hosts the agents' inputs
	ProfileDir    string // Chrome user data dir, keeps the console session logged in
	Headless      bool
	Width, Height int           // viewport size; 0 uses 1920x1080
	ActionTimeout time.Duration // per-action deadline; 0 uses 10s
	Logger        *slog.Logger
}

// NewBrowser creates a Browser. Chrome is started lazily on the first action.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".agentrelay", "chrome-profile")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1920, 1080
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Browser{
		url:           cfg.URL,
		profileDir:    cfg.ProfileDir,
		headless:      cfg.Headless,
		width:         cfg.Width,
		height:        cfg.Height,
		actionTimeout: cfg.ActionTimeout,
		logger:        cfg.Logger,
	}
}

// tab returns the long-lived tab context, starting Chrome if needed.
// The tab outlives individual deliveries, so it hangs off Background and is
// released by Close.
func (b *Browser) tab() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCtx != nil && b.tabCtx.Err() == nil {
		return b.tabCtx, nil
	}

	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir %s: %w", b.profileDir, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.WindowSize(b.width, b.height),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !b.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(b.width), int64(b.height)),
		chromedp.Navigate(b.url),
		chromedp.WaitReady("body"),
	); err != nil {
		tabCancel()
		allocCancel()
		return nil, classify(fmt.Errorf("open console %s: %w", b.url, err))
	}

	b.logger.Info("automation surface ready", "url", b.url, "headless", b.headless)
	b.tabCtx = tabCtx
	b.closeFn = func() {
		tabCancel()
		allocCancel()
	}
	return tabCtx, nil
}

// run executes actions on the tab under the per-action timeout. The caller's
// ctx only gates the start: once chromedp is running, the action completes or
// times out on its own.
func (b *Browser) run(ctx context.Context, what string, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tabCtx, err := b.tab()
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(tabCtx, b.actionTimeout)
	defer cancel()
	if err := chromedp.Run(actx, actions...); err != nil {
		return classify(fmt.Errorf("%s: %w", what, err))
	}
	return nil
}

func (b *Browser) Click(ctx context.Context, p domain.Point) error {
	return b.run(ctx, "click "+p.String(), chromedp.MouseClickXY(float64(p.X), float64(p.Y)))
}

// clearFocusedJS empties the focused input and reports whether one was focused.
const clearFocusedJS = `(function() {
	var el = document.activeElement;
	if (!el || el === document.body) return false;
	if (el.isContentEditable) {
		document.execCommand('selectAll', false, null);
		document.execCommand('delete', false, null);
		return true;
	}
	if (el.tagName !== 'TEXTAREA' && el.tagName !== 'INPUT') return false;
	el.value = '';
	el.dispatchEvent(new Event('input', {bubbles: true}));
	return true;
})()`

func (b *Browser) ClearInput(ctx context.Context) error {
	return b.run(ctx, "clear input", chromedp.ActionFunc(func(ctx context.Context) error {
		var cleared bool
		if err := chromedp.Evaluate(clearFocusedJS, &cleared).Do(ctx); err != nil {
			return err
		}
		if !cleared {
			return ErrFocusLost
		}
		return nil
	}))
}

// Paste uses Input.insertText, which lands the text in the focused element in
// one step. If nothing is focused the text is dropped, so focus is checked first.
func (b *Browser) Paste(ctx context.Context, text string) error {
	return b.run(ctx, "paste", b.requireFocus(), chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	}))
}

// Type sends one key event per rune. KeyEvent turns '\n' into Enter, which
// would commit the input, so text must be a single line.
func (b *Browser) Type(ctx context.Context, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("type: text spans several lines")
	}
	return b.run(ctx, "type", b.requireFocus(), chromedp.KeyEvent(text))
}

// LineBreak sends Shift+Enter, which console inputs treat as a newline.
func (b *Browser) LineBreak(ctx context.Context) error {
	return b.run(ctx, "line break", chromedp.KeyEvent(kb.Enter, chromedp.KeyModifiers(input.ModifierShift)))
}

func (b *Browser) PressEnter(ctx context.Context) error {
	return b.run(ctx, "press enter", chromedp.KeyEvent(kb.Enter))
}

func (b *Browser) requireFocus() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var editable bool
		err := chromedp.Evaluate(`(function() {
			var el = document.activeElement;
			if (!el || el === document.body) return false;
			return el.isContentEditable || el.tagName === 'TEXTAREA' || el.tagName === 'INPUT';
		})()`, &editable).Do(ctx)
		if err != nil {
			return err
		}
		if !editable {
			return ErrFocusLost
		}
		return nil
	})
}

// Close shuts Chrome down. The Browser can be reused; the next action restarts it.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeFn != nil {
		b.closeFn()
		b.closeFn = nil
		b.tabCtx = nil
	}
	return nil
}

// classify maps chromedp timeouts onto ErrNotReady so the GUI strategy retries them.
func classify(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return err
}
