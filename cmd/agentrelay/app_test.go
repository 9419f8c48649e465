package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"agentrelay/internal/config"
	"agentrelay/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.General.DataDir = dir
	cfg.Automation.Backend = "dryrun"
	cfg.Coordinates.Path = filepath.Join(dir, "coordinates.yaml")
	cfg.Inbox.Root = filepath.Join(dir, "workspaces")
	cfg.History.DBPath = filepath.Join(dir, "history.db")
	cfg.Spool.Dir = filepath.Join(dir, "spool")
	cfg.Router.RetryDelayMs = 0

	os.WriteFile(cfg.Coordinates.Path, []byte("Agent-1: {x: 100, y: 200}\n"), 0o644)
	os.MkdirAll(filepath.Join(cfg.Inbox.Root, "Agent-2", "inbox"), 0o755)
	return cfg
}

func TestNewApp_DeliversThroughConfiguredStrategies(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	res := a.router.Deliver(ctx, domain.NewMessage("op", "Agent-1", "to gui", "", ""))
	if !res.Succeeded() || res.Strategy != "GUI_AUTOMATION" {
		t.Fatalf("Agent-1 should be reached by GUI, got %+v", res)
	}
	if len(a.recorder.Actions()) == 0 {
		t.Fatal("dryrun backend should record GUI actions")
	}

	res = a.router.Deliver(ctx, domain.NewMessage("op", "Agent-2", "to inbox", "", ""))
	if !res.Succeeded() || res.Strategy != "INBOX_FILE" {
		t.Fatalf("Agent-2 should be reached by inbox, got %+v", res)
	}
	if n, _ := a.inbox.Count("Agent-2"); n != 1 {
		t.Fatalf("expected one inbox record, got %d", n)
	}

	res = a.router.Deliver(ctx, domain.NewMessage("op", "Agent-3", "nowhere", "", ""))
	if res.Reason != domain.ReasonNoRoute {
		t.Fatalf("Agent-3 should have no route, got %+v", res)
	}

	st, err := a.history.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Succeeded != 2 {
		t.Fatalf("ledger should hold all three results, got %+v", st)
	}
}

func TestNewApp_DisabledStrategyDropsFromOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Automation.Enabled = false
	cfg.History.Enabled = false

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if got := a.router.AutoOrder(); len(got) != 1 || got[0] != "INBOX_FILE" {
		t.Fatalf("expected inbox-only order, got %v", got)
	}
	res := a.router.Deliver(context.Background(), domain.NewMessage("op", "Agent-1", "x", "", ""))
	if res.Succeeded() {
		t.Fatal("Agent-1 has no inbox and GUI is disabled")
	}
}

func TestKnownRecipients(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, appOptions{noBrowser: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	got, err := a.knownRecipients()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "Agent-1" || got[1] != "Agent-2" {
		t.Fatalf("expected coords and inbox recipients, got %v", got)
	}
}

func TestParseRecipientLine(t *testing.T) {
	name, p, err := parseRecipientLine("Agent-4  10 20")
	if err != nil || name != "Agent-4" || p != (domain.Point{X: 10, Y: 20}) {
		t.Fatalf("unexpected %q %v %v", name, p, err)
	}
	for _, bad := range []string{"Agent-4", "Agent-4 x 1", "a 1 2 3"} {
		if _, _, err := parseRecipientLine(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestSplitListAndPreview(t *testing.T) {
	if got := splitList(" a, b,,c "); len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected %v", got)
	}
	if got := preview("first line\nsecond", 40); got != "first line" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := preview("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestCreateTarGz_IncludesDirectories(t *testing.T) {
	cfg := testConfig(t)
	os.WriteFile(filepath.Join(cfg.Inbox.Root, "Agent-2", "inbox", "r.md"), []byte("x"), 0o644)
	out := filepath.Join(t.TempDir(), "b.tar.gz")

	n, err := createTarGz(out, []backupItem{
		{cfg.Coordinates.Path, "coordinates.yaml"},
		{cfg.Inbox.Root, "workspaces"},
	})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 files, got %d %v", n, err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}
	sort.Strings(names)
	if names[0] != "coordinates.yaml" || names[1] != "workspaces/Agent-2/inbox/r.md" {
		t.Fatalf("unexpected archive entries %v", names)
	}
}

func TestServiceSpec_HeadlessUnit(t *testing.T) {
	cfg := testConfig(t)
	spec := newServiceSpec(cfg, "/bin/agentrelay", "/c.json")
	if spec.Graphical {
		t.Fatal("dryrun backend needs no desktop session")
	}
	target, err := serviceTargetFor("linux", "/home/op")
	if err != nil {
		t.Fatal(err)
	}
	if target.path != "/home/op/.config/systemd/user/agentrelay.service" {
		t.Fatalf("unexpected unit path %s", target.path)
	}
	unit, err := target.render(spec)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"ExecStart=/bin/agentrelay serve --config /c.json",
		"WorkingDirectory=" + cfg.General.DataDir,
		"WantedBy=default.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
	if strings.Contains(unit, "graphical-session") {
		t.Errorf("headless unit should not wait for a desktop session:\n%s", unit)
	}
}

func TestServiceSpec_VisibleChromeNeedsSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Automation.Backend = "chrome"
	cfg.Automation.Headless = false
	spec := newServiceSpec(cfg, "/Apps/R&D/agentrelay", "/c.json")
	if !spec.Graphical {
		t.Fatal("visible chrome needs the desktop session")
	}

	linux, _ := serviceTargetFor("linux", "/home/op")
	unit, _ := linux.render(spec)
	if !strings.Contains(unit, "After=graphical-session.target") || !strings.Contains(unit, "WantedBy=graphical-session.target") {
		t.Fatalf("systemd unit should bind to the desktop session:\n%s", unit)
	}

	mac, _ := serviceTargetFor("darwin", "/Users/op")
	plist, _ := mac.render(spec)
	if !strings.Contains(plist, "<string>Aqua</string>") {
		t.Errorf("launchd plist should limit to the Aqua session:\n%s", plist)
	}
	if !strings.Contains(plist, "/Apps/R&amp;D/agentrelay") {
		t.Errorf("plist paths must be XML-escaped:\n%s", plist)
	}

	if _, err := serviceTargetFor("windows", "C:/"); err == nil {
		t.Fatal("expected unsupported OS error")
	}
}

func TestPreflight(t *testing.T) {
	cfg := testConfig(t)
	spec := newServiceSpec(cfg, "/bin/agentrelay", "/c.json")
	if problems := preflight(cfg, spec); len(problems) != 0 {
		t.Fatalf("dryrun config should pass, got %v", problems)
	}
	for _, d := range []string{cfg.Spool.Dir, filepath.Dir(spec.StderrPath)} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("preflight should create %s", d)
		}
	}

	t.Setenv("PATH", t.TempDir())
	cfg.Automation.Backend = "chrome"
	problems := preflight(cfg, spec)
	if len(problems) != 1 || !strings.Contains(problems[0], "Chrome") {
		t.Fatalf("expected a missing Chrome problem, got %v", problems)
	}
}
