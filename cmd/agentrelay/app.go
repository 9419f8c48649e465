package main

import (
	"errors"
	"fmt"
	"time"

	"agentrelay/internal/automation"
	"agentrelay/internal/bus"
	"agentrelay/internal/config"
	"agentrelay/internal/coords"
	"agentrelay/internal/domain"
	"agentrelay/internal/history"
	"agentrelay/internal/inbox"
	"agentrelay/internal/metrics"
	"agentrelay/internal/router"
	"agentrelay/internal/spool"
	"agentrelay/internal/strategy"
)

type appOptions struct {
	dryRun    bool // record GUI actions instead of driving Chrome
	noBrowser bool // build the router without starting any automation backend
}

// app holds everything a command needs to deliver messages.
type app struct {
	cfg       *config.Config
	coords    *coords.Store
	inbox     *inbox.Store
	automator automation.Automator
	recorder  *automation.Recorder
	history   *history.Store
	events    *bus.EventBus
	router    *router.Router
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, events: bus.NewEventBus(500, logger)}
	a.events.On("*", func(ev bus.Event) {
		logger.Debug("event", "type", ev.Type, "source", ev.Source, "payload", ev.Payload)
	})

	var strategies []domain.Strategy

	cs, err := coords.Load(cfg.Coordinates.Path)
	if err != nil {
		return nil, fmt.Errorf("coordinates: %w", err)
	}
	a.coords = cs

	if cfg.Automation.Enabled {
		switch {
		case opts.noBrowser, opts.dryRun, cfg.Automation.Backend == "dryrun":
			a.recorder = automation.NewRecorder(logger)
			a.automator = a.recorder
		default:
			a.automator = automation.NewBrowser(automation.BrowserConfig{
				URL:           cfg.Automation.URL,
				ProfileDir:    cfg.Automation.ProfileDir,
				Headless:      cfg.Automation.Headless,
				Width:         cfg.Automation.Width,
				Height:        cfg.Automation.Height,
				ActionTimeout: time.Duration(cfg.Automation.ActionTimeoutSeconds) * time.Second,
				Logger:        logger,
			})
		}
		strategies = append(strategies, strategy.NewGUI(strategy.GUIOptions{
			Coords:    cs,
			Automator: a.automator,
			Pacer:     automation.NewPacer(cfg.Automation.Burst, cfg.Automation.SendsPerMinute),
			InputMode: automation.InputMode(cfg.Automation.InputMode),
			Logger:    logger,
		}))
	}

	if cfg.Inbox.Enabled {
		a.inbox = inbox.NewStore(cfg.Inbox.Root, cfg.Inbox.CreateMissing, logger)
		strategies = append(strategies, strategy.NewInbox(a.inbox, logger))
	}

	rc := router.Config{
		Strategies: strategies,
		AutoOrder:  cfg.Router.AutoOrder,
		MaxRetries: cfg.Router.MaxRetries,
		RetryDelay: time.Duration(cfg.Router.RetryDelayMs) * time.Millisecond,
		Workers:    cfg.Router.Workers,
		Events:     a.events,
		Metrics:    metrics.Collector,
		Logger:     logger,
	}
	// In the config file 0 means "none"; the router reads 0 as "default".
	if rc.MaxRetries == 0 {
		rc.MaxRetries = -1
	}
	if rc.RetryDelay == 0 {
		rc.RetryDelay = -1
	}
	// Keep only registered names so disabling a strategy does not break a
	// custom order.
	if len(rc.AutoOrder) > 0 {
		registered := map[string]bool{}
		for _, s := range strategies {
			registered[s.Name()] = true
		}
		var order []string
		for _, name := range rc.AutoOrder {
			if registered[name] {
				order = append(order, name)
			}
		}
		rc.AutoOrder = order
	}

	if cfg.History.Enabled {
		hs, err := history.Open(cfg.History.DBPath, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		a.history = hs
		rc.Ledger = hs
	}

	r, err := router.New(rc)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = r
	return a, nil
}

// spool returns a spool bound to the app's router.
func (a *app) spool() *spool.Spool {
	return spool.New(spool.Options{
		Dir:          a.cfg.Spool.Dir,
		Router:       a.router,
		Events:       a.events,
		Metrics:      metrics.Collector,
		ScanInterval: time.Duration(a.cfg.Spool.ScanIntervalSeconds) * time.Second,
		Logger:       logger,
	})
}

func (a *app) Close() error {
	var errs []error
	if a.automator != nil {
		errs = append(errs, a.automator.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}
