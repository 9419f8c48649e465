// Package inbox stores messages as files under each recipient's workspace:
//
//	<root>/<recipient>/inbox/<UTC timestamp>_<id>.md
package inbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	inboxDir     = "inbox"
	recordExt    = ".md"
	tmpPattern   = ".incoming-*.tmp"
	stampLayout  = "20060102T150405.000000000Z"
	dirPerm      = 0o755
	recordPerm   = 0o644
	maxRecipient = 64
)

var (
	// ErrInvalidRecipient is returned for names that cannot be used as a directory.
	ErrInvalidRecipient = errors.New("inbox: invalid recipient name")
	// ErrNoInbox is returned when the recipient has no workspace.
	ErrNoInbox = errors.New("inbox: recipient has no workspace")
	// ErrRecordNotFound is returned by Read and Delete for unknown IDs.
	ErrRecordNotFound = errors.New("inbox: record not found")
)

var validRecipient = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidRecipient reports whether name is safe to use as a workspace directory.
func ValidRecipient(name string) bool {
	return len(name) <= maxRecipient && validRecipient.MatchString(name) && !strings.Contains(name, "..")
}

// Store manages the inbox directories under one workspace root.
type Store struct {
	root          string
	createMissing bool
	logger        *slog.Logger
}

// NewStore creates a store rooted at root. With createMissing, any valid
// recipient resolves and its workspace is created on first write; otherwise
// only recipients whose workspace directory already exists resolve.
func NewStore(root string, createMissing bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, createMissing: createMissing, logger: logger}
}

// Root returns the workspace root.
func (s *Store) Root() string { return s.root }

// ResolvePath implements domain.InboxStore.
func (s *Store) ResolvePath(recipient string) (string, bool) {
	if !ValidRecipient(recipient) {
		return "", false
	}
	workspace := filepath.Join(s.root, recipient)
	if !s.createMissing {
		info, err := os.Stat(workspace)
		if err != nil || !info.IsDir() {
			return "", false
		}
	}
	return filepath.Join(workspace, inboxDir), true
}

// AppendRecord implements domain.InboxStore. The record is written to a temp
// file in dir, synced, and renamed into place, so readers never observe a
// partial record.
func (s *Store) AppendRecord(dir string, record []byte) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create inbox dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return "", fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(record); err != nil {
		cleanup()
		return "", fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Chmod(recordPerm); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close record: %w", err)
	}

	final := filepath.Join(dir, recordName(record))
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish record: %w", err)
	}
	return final, nil
}

// recordName builds "<UTC timestamp>_<id>.md". The ID comes from the record
// header when it parses; otherwise a fresh one is used.
func recordName(record []byte) string {
	id := ""
	if r, err := Decode(record); err == nil && ValidRecipient(r.ID) {
		id = r.ID
	}
	if id == "" {
		id = uuid.NewString()
	}
	return time.Now().UTC().Format(stampLayout) + "_" + id + recordExt
}

// Write encodes r and appends it to the recipient's inbox.
func (s *Store) Write(r Record) (string, error) {
	dir, ok := s.ResolvePath(r.Recipient)
	if !ok {
		return "", s.resolveError(r.Recipient)
	}
	data, err := Encode(r)
	if err != nil {
		return "", err
	}
	return s.AppendRecord(dir, data)
}

// List returns the recipient's records, oldest first. Files that fail to
// decode are logged and skipped.
func (s *Store) List(recipient string) ([]Record, error) {
	dir, err := s.existingInbox(recipient)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if isRecordFile(e.Name()) && e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable inbox record", "path", filepath.Join(dir, name), "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Read returns the record with the given message ID. A unique ID prefix of
// at least 8 characters is accepted.
func (s *Store) Read(recipient, id string) (Record, error) {
	records, err := s.List(recipient)
	if err != nil {
		return Record{}, err
	}
	var match *Record
	for i := range records {
		r := &records[i]
		if r.ID == id {
			return *r, nil
		}
		if len(id) >= 8 && strings.HasPrefix(r.ID, id) {
			if match != nil {
				return Record{}, fmt.Errorf("inbox: id prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return *match, nil
}

// Delete removes the record with the given message ID.
func (s *Store) Delete(recipient, id string) error {
	rec, err := s.Read(recipient, id)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.Path); err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// Recipients lists workspace directories under the root with valid names.
func (s *Store) Recipients() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && ValidRecipient(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of records in the recipient's inbox.
func (s *Store) Count(recipient string) (int, error) {
	dir, err := s.existingInbox(recipient)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	n := 0
	for _, e := range entries {
		if isRecordFile(e.Name()) {
			n++
		}
	}
	return n, nil
}

func (s *Store) existingInbox(recipient string) (string, error) {
	if !ValidRecipient(recipient) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	info, err := os.Stat(filepath.Join(s.root, recipient))
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNoInbox, recipient)
	}
	return filepath.Join(s.root, recipient, inboxDir), nil
}

func (s *Store) resolveError(recipient string) error {
	if !ValidRecipient(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return fmt.Errorf("%w: %s", ErrNoInbox, recipient)
}

func isRecordFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordExt)
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	rec, err := Decode(data)
	if err != nil {
		return Record{}, err
	}
	rec.Path = path
	return rec, nil
}
