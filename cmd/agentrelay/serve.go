package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agentrelay/internal/history"
	"agentrelay/internal/ingest"
	"agentrelay/internal/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = 6 * time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the spool worker, plus the ingest and metrics endpoints when enabled",
		Long:  "Delivers queued messages from the spool as they arrive. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	sp := app.spool()
	if err := sp.Init(); err != nil {
		return err
	}
	g.Go(func() error { return sp.Run(ctx) })

	if cfg.Ingest.Enabled {
		wh := ingest.NewWebhook(ingest.WebhookConfig{
			Listen: cfg.Ingest.Listen,
			Path:   cfg.Ingest.Path,
			Secret: cfg.Ingest.Secret,
			Sender: cfg.General.Sender,
			Queue:  sp,
			Logger: logger,
		})
		g.Go(func() error { return wh.Start(ctx) })
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Endpoint)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if app.history != nil && cfg.History.RetentionDays > 0 {
		g.Go(func() error {
			pruneHistory(ctx, app.history, cfg.History.RetentionDays)
			return nil
		})
	}

	logger.Info("serve started. Press Ctrl+C to stop.", "spool", cfg.Spool.Dir, "strategies", app.router.Strategies())
	err = g.Wait()
	logger.Info("serve stopped")
	return err
}

// pruneHistory drops ledger rows older than the retention window, once at
// startup and then periodically until ctx is done.
func pruneHistory(ctx context.Context, hs *history.Store, days int) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		if _, err := hs.Prune(ctx, cutoff); err != nil && ctx.Err() == nil {
			logger.Warn("history prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
