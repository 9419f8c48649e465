// Package spool is a durable outbox. Producers drop message files into
// <dir>/pending; a single worker delivers them through the router and files
// them under done/ or failed/.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/domain"
	"agentrelay/internal/inbox"
	"agentrelay/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const (
	pendingDir = "pending"
	doneDir    = "done"
	failedDir  = "failed"

	defaultScanInterval = 30 * time.Second
)

// Deliverer is the part of the router the spool needs.
type Deliverer interface {
	Deliver(ctx context.Context, msg *domain.Message) domain.DeliveryResult
}

// Options configures a Spool.
type Options struct {
	Dir          string
	Router       Deliverer
	Events       *bus.EventBus
	Metrics      *metrics.Registry
	ScanInterval time.Duration
	Logger       *slog.Logger
}

// Spool is safe for concurrent Enqueue; Run must be called at most once at a time.
type Spool struct {
	dir      string
	router   Deliverer
	events   *bus.EventBus
	metrics  *metrics.Registry
	interval time.Duration
	writer   *inbox.Store
	logger   *slog.Logger

	drainMu sync.Mutex
}

// New creates a spool rooted at opts.Dir.
func New(opts Options) *Spool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Collector
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	return &Spool{
		dir:      opts.Dir,
		router:   opts.Router,
		events:   opts.Events,
		metrics:  opts.Metrics,
		interval: opts.ScanInterval,
		writer:   inbox.NewStore(opts.Dir, false, opts.Logger),
		logger:   opts.Logger,
	}
}

// Init creates the spool directories.
func (s *Spool) Init() error {
	for _, d := range []string{pendingDir, doneDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(s.dir, d), 0o755); err != nil {
			return fmt.Errorf("create spool dir %s: %w", d, err)
		}
	}
	return nil
}

// Enqueue writes msg to pending atomically and returns the file path.
func (s *Spool) Enqueue(msg *domain.Message) (string, error) {
	data, err := inbox.Encode(inbox.FromMessage(msg))
	if err != nil {
		return "", err
	}
	path, err := s.writer.AppendRecord(filepath.Join(s.dir, pendingDir), data)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}
	s.logger.Debug("message spooled", "id", msg.ID, "recipient", msg.Recipient, "path", path)
	return path, nil
}

// Run drains pending files, then delivers new ones as they arrive until ctx
// is done. A periodic rescan picks up anything the watcher missed.
func (s *Spool) Run(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("spool: no router")
	}
	if err := s.Init(); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Join(s.dir, pendingDir)); err != nil {
		return fmt.Errorf("watch pending: %w", err)
	}

	s.logger.Info("spool worker started", "dir", s.dir, "rescan", s.interval)
	if _, err := s.Drain(ctx); err != nil {
		s.logger.Warn("initial drain failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("spool worker stopping")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) || !isPending(filepath.Base(ev.Name)) {
				continue
			}
			if _, err := s.Drain(ctx); err != nil {
				s.logger.Warn("drain failed", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("spool watcher error", "err", err)
		case <-ticker.C:
			if _, err := s.Drain(ctx); err != nil {
				s.logger.Warn("rescan failed", "err", err)
			}
		}
	}
}

// Drain delivers every pending file in name order and returns how many were
// filed. It stops early when ctx is done.
func (s *Spool) Drain(ctx context.Context) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	names, err := s.Pending()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if s.process(ctx, name) {
			n++
		}
	}
	return n, nil
}

// Pending lists pending file names in delivery order.
func (s *Spool) Pending() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, pendingDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isPending(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Counts reports the number of files in each state.
func (s *Spool) Counts() (pending, done, failed int) {
	count := func(d string) int {
		entries, _ := os.ReadDir(filepath.Join(s.dir, d))
		n := 0
		for _, e := range entries {
			if isPending(e.Name()) {
				n++
			}
		}
		return n
	}
	return count(pendingDir), count(doneDir), count(failedDir)
}

// process delivers one file and reports whether it left pending.
func (s *Spool) process(ctx context.Context, name string) bool {
	path := filepath.Join(s.dir, pendingDir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		s.logger.Warn("read spool file", "path", path, "err", err)
		return false
	}
	rec, err := inbox.Decode(data)
	if err != nil {
		s.logger.Warn("undecodable spool file", "path", path, "err", err)
		s.file(name, failedDir, map[string]string{"error": err.Error()})
		return true
	}

	msg := rec.Message()
	if s.events != nil {
		s.events.Emit(bus.Event{Type: bus.EventSpoolAccepted, Source: "spool", Payload: map[string]any{
			"message_id": msg.ID, "recipient": msg.Recipient, "file": name,
		}})
	}

	res := s.router.Deliver(ctx, msg)
	switch {
	case res.Succeeded():
		s.file(name, doneDir, nil)
	case res.Reason == domain.ReasonCanceled:
		// Left pending for the next run.
		return false
	default:
		s.file(name, failedDir, res)
	}
	return true
}

// file moves name from pending into dir, writing an optional JSON sidecar.
func (s *Spool) file(name, dir string, sidecar any) {
	from := filepath.Join(s.dir, pendingDir, name)
	to := filepath.Join(s.dir, dir, name)
	if sidecar != nil {
		if data, err := json.MarshalIndent(sidecar, "", "  "); err == nil {
			os.WriteFile(strings.TrimSuffix(to, ".md")+".result.json", data, 0o644)
		}
	}
	if err := os.Rename(from, to); err != nil {
		s.logger.Error("move spool file", "from", from, "to", to, "err", err)
		return
	}
	s.metrics.Counter(metrics.SpoolFilesTotal, "Spool files processed by final state.",
		metrics.Labels("state", dir)).Inc()
	s.logger.Info("spool file processed", "file", name, "state", dir)
}

func isPending(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".md")
}
