// Package coords keeps the recipient -> screen position table used by GUI delivery.
package coords

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"agentrelay/internal/domain"

	"gopkg.in/yaml.v3"
)

// Entry is one named coordinate.
type Entry struct {
	Recipient string
	Point     domain.Point
}

// Store is a YAML-backed coordinate table:
//
//	Agent-1: {x: 100, y: 200}
//	Agent-2: {x: 640, y: 200}
//
// JSON files with the same shape load too. Lookups take a read lock only;
// Set and Delete are for admin commands, not the delivery path.
type Store struct {
	path string

	mu     sync.RWMutex
	points map[string]domain.Point
}

// New returns an empty store that saves to path.
func New(path string) *Store {
	return &Store{path: path, points: make(map[string]domain.Point)}
}

// Load reads the table at path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := New(path)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read coordinates %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(data, &s.points); err != nil {
		return nil, fmt.Errorf("parse coordinates %s: %w", path, err)
	}
	if s.points == nil {
		s.points = make(map[string]domain.Point)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// GetCoordinates implements domain.CoordinateStore.
func (s *Store) GetCoordinates(recipient string) (domain.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[recipient]
	return p, ok
}

// Set registers or replaces a recipient's position.
func (s *Store) Set(recipient string, p domain.Point) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("empty recipient")
	}
	if p.X < 0 || p.Y < 0 {
		return fmt.Errorf("coordinates must be non-negative, got %s", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[recipient] = p
	return nil
}

// Delete removes a recipient. It reports whether the recipient existed.
func (s *Store) Delete(recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.points[recipient]
	delete(s.points, recipient)
	return ok
}

// List returns all entries sorted by recipient.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.points))
	for r, p := range s.points {
		out = append(out, Entry{Recipient: r, Point: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out
}

// Save writes the table atomically (temp file + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := yaml.Marshal(s.points)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode coordinates: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create coordinates dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".coordinates-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write coordinates: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close coordinates: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace coordinates: %w", err)
	}
	return nil
}
