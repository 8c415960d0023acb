// Package metrics exposes the bridge's counters, gauges and barrier-wait
// histograms in Prometheus text format, or as JSON for ad-hoc inspection.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels represents metric labels.
type Labels map[string]string

// String formats labels for Prometheus output, sorted by key.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// with returns the label set plus one more pair, in Prometheus form.
func (l Labels) with(key, value string) string {
	s := l.String()
	pair := fmt.Sprintf("%s=%q", key, value)
	if s == "" {
		return "{" + pair + "}"
	}
	return s[:len(s)-1] + "," + pair + "}"
}

// series identifies one labelled time series.
type series struct {
	name   string
	help   string
	labels Labels
}

func (s series) id() string { return s.name + s.labels.String() }

// metric is what the registry knows how to export.
type metric interface {
	family() (name, help, kind string)
	writeSamples(w io.Writer)
	addTo(snapshot map[string]any)
}

// Counter only goes up.
type Counter struct {
	series
	value atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) family() (string, string, string) { return c.name, c.help, "counter" }
func (c *Counter) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", c.id(), c.Value())
}
func (c *Counter) addTo(snapshot map[string]any) { snapshot[c.id()] = c.Value() }

// Gauge tracks a level such as the number of pending actions.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Add(v int64)  { g.value.Add(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) family() (string, string, string) { return g.name, g.help, "gauge" }
func (g *Gauge) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", g.id(), g.Value())
}
func (g *Gauge) addTo(snapshot map[string]any) { snapshot[g.id()] = g.Value() }

// BarrierBuckets bound the time the UI loop waits for engine replies. A
// healthy engine answers within a frame; the top buckets catch stalls.
var BarrierBuckets = []float64{
	0.00005, 0.0002, 0.001, 0.004, 0.016, 0.05, 0.25, 1, 5, 30,
}

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	series
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // per bound, plus a final +Inf slot
	sum    float64
	count  uint64
}

func newHistogram(s series, bounds []float64) *Histogram {
	if len(bounds) == 0 {
		bounds = BarrierBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{series: s, bounds: sorted, counts: make([]uint64, len(sorted)+1)}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

// Sum returns the total of all observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) family() (string, string, string) { return h.name, h.help, "histogram" }

func (h *Histogram) writeSamples(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labels.with("le", fmt.Sprintf("%g", bound)), cumulative)
	}
	cumulative += h.counts[len(h.bounds)]
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cumulative)
	fmt.Fprintf(w, "%s_sum%s %f\n", h.name, h.labels.String(), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, h.labels.String(), h.count)
}

func (h *Histogram) addTo(snapshot map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot[h.id()+"_sum"] = h.sum
	snapshot[h.id()+"_count"] = h.count
}

// Registry holds every series exported by one process, keyed by name and
// labels.
type Registry struct {
	mu        sync.RWMutex
	metrics   map[string]metric
	namespace string
	subsystem string
}

// NewRegistry returns a registry prefixing names with namespace and subsystem.
func NewRegistry(namespace, subsystem string) *Registry {
	return &Registry{metrics: make(map[string]metric), namespace: namespace, subsystem: subsystem}
}

func (r *Registry) fullName(name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.namespace, r.subsystem, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "_")
}

// register returns the series already registered under s, or stores the one
// built by create. A name reused with another metric type panics.
func register[M metric](r *Registry, s series, create func(series) M) M {
	s.name = r.fullName(s.name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[s.id()]; ok {
		existing, ok := m.(M)
		if !ok {
			panic(fmt.Sprintf("metrics: %s registered with another type", s.id()))
		}
		return existing
	}
	m := create(s)
	r.metrics[s.id()] = m
	return m
}

// RegisterCounter returns the counter for name and labels, creating it once.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, series{name, help, labels}, func(s series) *Counter { return &Counter{series: s} })
}

// RegisterGauge returns the gauge for name and labels, creating it once.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, series{name, help, labels}, func(s series) *Gauge { return &Gauge{series: s} })
}

// RegisterHistogram returns the histogram for name and labels, creating it
// once with the given bounds (BarrierBuckets when empty).
func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, series{name, help, labels}, func(s series) *Histogram { return newHistogram(s, bounds) })
}

// GetCounter returns a registered counter, or nil.
func (r *Registry) GetCounter(name string, labels Labels) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, _ := r.metrics[r.fullName(name)+labels.String()].(*Counter)
	return c
}

func (r *Registry) sorted() []metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]metric, len(keys))
	for i, k := range keys {
		out[i] = r.metrics[k]
	}
	return out
}

// WritePrometheus writes every series in Prometheus text format, with one
// HELP and TYPE line per metric name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	described := make(map[string]bool)
	for _, m := range r.sorted() {
		name, help, kind := m.family()
		if !described[name] {
			described[name] = true
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
		}
		m.writeSamples(w)
	}
	return nil
}

// Snapshot returns current values keyed by series; histograms contribute
// _sum and _count entries.
func (r *Registry) Snapshot() map[string]any {
	snapshot := make(map[string]any)
	for _, m := range r.sorted() {
		m.addTo(snapshot)
	}
	return snapshot
}

// HTTPHandler serves Prometheus text, or JSON when the client asks for it.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			enc.Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}
