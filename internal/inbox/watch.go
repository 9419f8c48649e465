package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn for every record that lands in the recipient's inbox until
// ctx is done. Records already present are not replayed; use List for those.
func (s *Store) Watch(ctx context.Context, recipient string, fn func(Record)) error {
	dir, err := s.existingInbox(recipient)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Debug("watching inbox", "recipient", recipient, "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Records are published by rename, which surfaces as Create.
			if !ev.Has(fsnotify.Create) || !isRecordFile(filepath.Base(ev.Name)) {
				continue
			}
			rec, err := readRecord(ev.Name)
			if err != nil {
				s.logger.Warn("skipping unreadable inbox record", "path", ev.Name, "err", err)
				continue
			}
			fn(rec)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("inbox watcher error", "recipient", recipient, "err", err)
		}
	}
}
