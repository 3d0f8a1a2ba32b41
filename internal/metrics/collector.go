// Package metrics counts payment flow outcomes and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Namespace prefixes every series name.
const Namespace = "paychat"

// Labels are the constant labels of one series, e.g. {"stage": "verify"}.
type Labels map[string]string

// String renders the labels sorted by name with escaped values.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + `="` + labelEscaper.Replace(l[name]) + `"`
	}
	return strings.Join(parts, ",")
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups the series sharing a name, help text and type.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // rendered labels -> *Counter, *Gauge or *Histogram
}

// MetricsCollector is the registry of paychat's series.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter only goes up.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge tracks a level, such as payments waiting on the gateway.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64 // sorted, last is +Inf
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// lookup returns the series for name and labels, creating it with newSeries
// on first use. Reusing a name with another type is a programming error.
func (c *MetricsCollector) lookup(name, help string, k kind, labels Labels, newSeries func() any) any {
	full := Namespace + "_" + name
	key := labels.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[full]
	if !ok {
		f = &family{name: full, help: help, kind: k, series: make(map[string]any)}
		c.families[full] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", full, f.kind, k))
	}
	s, ok := f.series[key]
	if !ok {
		s = newSeries()
		f.series[key] = s
	}
	return s
}

// Counter returns the counter series name{labels}, creating it on first use.
// name is given without the namespace.
func (c *MetricsCollector) Counter(name, help string, labels Labels) *Counter {
	return c.lookup(name, help, kindCounter, labels, func() any { return &Counter{} }).(*Counter)
}

func (c *MetricsCollector) Gauge(name, help string, labels Labels) *Gauge {
	return c.lookup(name, help, kindGauge, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram series name{labels}. A +Inf bucket is added
// when buckets lacks one. Buckets are fixed by the first call.
func (c *MetricsCollector) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	return c.lookup(name, help, kindHistogram, labels, func() any {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
			bounds = append(bounds, math.Inf(1))
		}
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// Handler serves Render for the backend's metrics endpoint.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render writes every family, sorted by name and then by labels.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder
	uptime := Namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n# TYPE %s gauge\n%s %d\n",
		uptime, uptime, uptime, int64(c.Uptime().Seconds()))

	for _, f := range c.snapshot() {
		fmt.Fprintf(&sb, "\n# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		for _, key := range sortedKeys(f.series) {
			switch s := f.series[key].(type) {
			case *Counter:
				fmt.Fprintf(&sb, "%s %d\n", series(f.name, key), s.Value())
			case *Gauge:
				fmt.Fprintf(&sb, "%s %d\n", series(f.name, key), s.Value())
			case *Histogram:
				writeHistogram(&sb, f.name, key, s)
			}
		}
	}
	return sb.String()
}

// snapshot copies the registry so rendering runs without the lock. Series
// values are read atomically or under their own lock.
func (c *MetricsCollector) snapshot() []family {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]family, 0, len(c.families))
	for _, name := range sortedKeys(c.families) {
		f := *c.families[name]
		f.series = make(map[string]any, len(c.families[name].series))
		for k, v := range c.families[name].series {
			f.series[k] = v
		}
		out = append(out, f)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHistogram(sb *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := labels
	if prefix != "" {
		prefix += ","
	}
	for i, le := range h.bounds {
		bound := "+Inf"
		if !math.IsInf(le, 1) {
			bound = strconv.FormatFloat(le, 'g', -1, 64)
		}
		fmt.Fprintf(sb, "%s_bucket{%sle=\"%s\"} %d\n", name, prefix, bound, h.counts[i])
	}
	fmt.Fprintf(sb, "%s %d\n", series(name+"_count", labels), h.count)
	fmt.Fprintf(sb, "%s %s\n", series(name+"_sum", labels), strconv.FormatFloat(h.sum, 'f', -1, 64))
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}
