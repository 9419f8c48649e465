package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	r := NewCollector("test")
	a := r.Counter("test_total", "help", Labels("outcome", "SUCCESS"))
	b := r.Counter("test_total", "help", Labels("outcome", "SUCCESS"))
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestLabels(t *testing.T) {
	got := Labels("strategy", "INBOX_FILE", "outcome", "FAILURE")
	want := `strategy="INBOX_FILE",outcome="FAILURE"`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if Labels() != "" {
		t.Fatal("expected empty labels")
	}
}

func TestGauge(t *testing.T) {
	r := NewCollector("test")
	g := r.Gauge("test_inflight", "help", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	g.Set(7)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %d", g.Value())
	}
}

func TestHistogram_Buckets(t *testing.T) {
	r := NewCollector("test")
	h := r.Histogram("test_latency_seconds", "help", "", []float64{1, 0.1, math.Inf(1)})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	out := r.Render()
	for _, want := range []string{
		`test_latency_seconds_bucket{le="0.1"} 1`,
		`test_latency_seconds_bucket{le="1"} 2`,
		`test_latency_seconds_bucket{le="+Inf"} 3`,
		`test_latency_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if h.Count() != 3 {
		t.Fatalf("expected count 3, got %d", h.Count())
	}
}

func TestRender_HelpWrittenOncePerName(t *testing.T) {
	r := NewCollector("test")
	r.Counter("test_total", "Deliveries", Labels("outcome", "SUCCESS")).Inc()
	r.Counter("test_total", "Deliveries", Labels("outcome", "FAILURE")).Inc()

	out := r.Render()
	if n := strings.Count(out, "# HELP test_total"); n != 1 {
		t.Fatalf("expected one HELP line, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, `test_total{outcome="FAILURE"} 1`) {
		t.Fatalf("missing labelled sample:\n%s", out)
	}
	// sorted by key: FAILURE before SUCCESS
	if strings.Index(out, `outcome="FAILURE"`) > strings.Index(out, `outcome="SUCCESS"`) {
		t.Fatal("expected samples sorted by label")
	}
}

func TestHandler(t *testing.T) {
	r := NewCollector("test")
	r.Counter("test_total", "help", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "test_uptime_seconds") || !strings.Contains(body, "test_total 1") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}
