// Package metrics is a small Prometheus-text collector for agentrelay.
// It renders the exposition format directly instead of pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewCollector("agentrelay")

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	prefix     string
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewCollector creates a registry whose uptime gauge is named <prefix>_uptime_seconds.
func NewCollector(prefix string) *Registry {
	return &Registry{prefix: prefix, startTime: time.Now()}
}

// Uptime returns the time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter only goes up.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge goes up and down.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help, labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name/labels, creating it on first use.
// labels is the raw label body, e.g. `outcome="SUCCESS"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	if v, ok := r.counters.Load(k); ok {
		return v.(*Counter)
	}
	v, _ := r.counters.LoadOrStore(k, &Counter{name: name, help: help, labels: labels})
	return v.(*Counter)
}

// Gauge returns the gauge for name/labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	if v, ok := r.gauges.Load(k); ok {
		return v.(*Gauge)
	}
	v, _ := r.gauges.LoadOrStore(k, &Gauge{name: name, help: help, labels: labels})
	return v.(*Gauge)
}

// Histogram returns the histogram for name/labels, creating it on first use.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	k := key(name, labels)
	if v, ok := r.histograms.Load(k); ok {
		return v.(*Histogram)
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{name: name, help: help, labels: labels, bounds: b, buckets: make([]int64, len(b))}
	v, _ := r.histograms.LoadOrStore(k, h)
	return v.(*Histogram)
}

// Labels renders label pairs in the given order: Labels("a", "1", "b", "2") -> a="1",b="2".
func Labels(kv ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", kv[i], kv[i+1])
	}
	return sb.String()
}

// Render returns every metric in Prometheus text format, sorted by key.
func (r *Registry) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since start in seconds\n", r.prefix)
	fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", r.prefix)
	fmt.Fprintf(&sb, "%s_uptime_seconds %d\n", r.prefix, int64(r.Uptime().Seconds()))

	written := make(map[string]bool)
	header := func(name, help, kind string) {
		if written[name] {
			return
		}
		written[name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	}
	sample := func(name, labels string, v any) {
		if labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %v\n", name, labels, v)
		} else {
			fmt.Fprintf(&sb, "%s %v\n", name, v)
		}
	}

	for _, c := range sorted[*Counter](&r.counters) {
		header(c.name, c.help, "counter")
		sample(c.name, c.labels, c.Value())
	}
	for _, g := range sorted[*Gauge](&r.gauges) {
		header(g.name, g.help, "gauge")
		sample(g.name, g.labels, g.Value())
	}
	for _, h := range sorted[*Histogram](&r.histograms) {
		h.mu.Lock()
		header(h.name, h.help, "histogram")
		sep := ""
		if h.labels != "" {
			sep = ","
		}
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%s%sle=%q} %d\n", h.name, h.labels, sep, bound, h.buckets[i])
		}
		sample(h.name+"_count", h.labels, h.count)
		sample(h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
		h.mu.Unlock()
	}
	return sb.String()
}

func sorted[T any](m *sync.Map) []T {
	var keys []string
	vals := make(map[string]T)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

// Handler serves Render over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

// Metric names shared by the router and the spool.
const (
	DeliveriesTotal   = "agentrelay_deliveries_total"
	AttemptsTotal     = "agentrelay_attempts_total"
	SpoolFilesTotal   = "agentrelay_spool_files_total"
	DeliveryLatency   = "agentrelay_delivery_latency_seconds"
	BroadcastInflight = "agentrelay_broadcast_inflight"
)

// LatencyBuckets are the delivery latency bounds in seconds.
var LatencyBuckets = []float64{0.01, 0.05, 0.1, 0.3, 1, 3, 10, math.Inf(1)}
