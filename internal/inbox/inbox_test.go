package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentrelay/internal/domain"
)

func sampleRecord(recipient, content string) Record {
	msg := domain.NewMessage("Agent-0", recipient, content, domain.PriorityHigh, domain.HintAuto)
	return FromMessage(msg)
}

func TestEncodeDecode_ExactContent(t *testing.T) {
	contents := []string{
		"hello",
		"",
		"line one\nline two\n",
		"\n\nleading newlines",
		"---\nlooks like a fence\n---\n",
		"unicode: héllo 世界 🚀",
		"trailing spaces   ",
	}
	for _, c := range contents {
		rec := sampleRecord("Agent-2", c)
		data, err := Encode(rec)
		if err != nil {
			t.Fatalf("encode %q: %v", c, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", c, err)
		}
		if got.Content != c {
			t.Errorf("content mismatch: got %q, want %q", got.Content, c)
		}
		if got.ID != rec.ID || got.Sender != rec.Sender || got.Recipient != rec.Recipient {
			t.Errorf("identity mismatch: got %+v", got)
		}
		if got.Priority != rec.Priority || got.Hint != rec.Hint {
			t.Errorf("priority/hint mismatch: got %s/%s", got.Priority, got.Hint)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("timestamp mismatch: got %v, want %v", got.CreatedAt, rec.CreatedAt)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"no header":    "just text",
		"unterminated": "---\nid: x\n",
		"no id":        "---\nfrom: a\n---\nbody",
		"bad time":     "---\nid: x\ncreated: yesterday\n---\nbody",
		"bad priority": "---\nid: x\ncreated: 2026-01-01T00:00:00Z\npriority: LOUD\n---\nbody",
	}
	for name, in := range cases {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "Agent-1"), 0o755)

	strict := NewStore(root, false, nil)
	if dir, ok := strict.ResolvePath("Agent-1"); !ok || dir != filepath.Join(root, "Agent-1", "inbox") {
		t.Fatalf("expected Agent-1 to resolve, got %q %v", dir, ok)
	}
	if _, ok := strict.ResolvePath("Agent-3"); ok {
		t.Fatal("Agent-3 has no workspace and should not resolve")
	}

	lenient := NewStore(root, true, nil)
	if _, ok := lenient.ResolvePath("Agent-3"); !ok {
		t.Fatal("createMissing store should resolve any valid name")
	}
	for _, bad := range []string{"", "../etc", "a/b", ".hidden", "x..y", strings.Repeat("a", 65)} {
		if _, ok := lenient.ResolvePath(bad); ok {
			t.Errorf("%q should not resolve", bad)
		}
	}
}

func TestAppendRecord_AtomicAndNamed(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, true, nil)
	rec := sampleRecord("Agent-1", "ping")

	path, err := s.Write(rec)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(path, "_"+rec.ID+".md") {
		t.Fatalf("unexpected record name %s", path)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the published record, got %d entries", len(entries))
	}
	data, _ := os.ReadFile(path)
	got, err := Decode(data)
	if err != nil || got.Content != "ping" {
		t.Fatalf("record on disk did not decode: %v %+v", err, got)
	}
}

func TestListReadDelete(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, true, nil)

	first := sampleRecord("Agent-1", "first")
	second := sampleRecord("Agent-1", "second")
	if _, err := s.Write(first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if _, err := s.Write(second); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "Agent-1", "inbox", "zz_garbage.md"), []byte("nope"), 0o644)

	list, err := s.List("Agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Content != "first" || list[1].Content != "second" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	got, err := s.Read("Agent-1", second.ID[:8])
	if err != nil || got.ID != second.ID {
		t.Fatalf("read by prefix: %v %+v", err, got)
	}

	if err := s.Delete("Agent-1", first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Read("Agent-1", first.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if n, _ := s.Count("Agent-1"); n != 2 { // second + garbage file
		t.Fatalf("expected 2 files left, got %d", n)
	}
}

func TestList_UnknownRecipient(t *testing.T) {
	s := NewStore(t.TempDir(), false, nil)
	if _, err := s.List("Agent-9"); !errors.Is(err, ErrNoInbox) {
		t.Fatalf("expected ErrNoInbox, got %v", err)
	}
	if _, err := s.List("../x"); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestRecipients(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"Agent-2", "Agent-1", ".git"} {
		os.MkdirAll(filepath.Join(root, d), 0o755)
	}
	os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0o644)

	got, err := NewStore(root, false, nil).Recipients()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "Agent-1" || got[1] != "Agent-2" {
		t.Fatalf("unexpected recipients %v", got)
	}
}

func TestWatch_SeesNewRecords(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "Agent-1"), 0o755)
	s := NewStore(root, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Record, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "Agent-1", func(r Record) {
			select {
			case got <- r:
			default:
			}
		})
	}()

	// Keep writing until the watcher is attached and reports one.
	rec := sampleRecord("Agent-1", "watched")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-got:
			if r.Content != "watched" {
				t.Fatalf("unexpected record %+v", r)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch returned %v", err)
			}
			return
		case <-ticker.C:
			if _, err := s.Write(rec); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("watcher never reported a record")
		}
	}
}
