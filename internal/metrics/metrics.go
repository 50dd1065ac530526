package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type kind string

const (
	kindCounter   kind = "counter"
	kindHistogram kind = "histogram"
)

type desc struct {
	name    string
	help    string
	kind    kind
	buckets []float64
}

type counter struct {
	labels map[string]string
	value  uint64
}

type histogram struct {
	labels  map[string]string
	count   uint64
	sum     float64
	bucketN []uint64
}

// Registry is a minimal Prometheus-text-format metric store. It exists
// so the pipeline exposes counters and latency histograms without a
// client library dependency in the serving path.
type Registry struct {
	mu         sync.RWMutex
	descs      map[string]desc
	counters   map[string]map[string]*counter
	histograms map[string]map[string]*histogram
}

var latencyBuckets = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

func NewRegistry() *Registry {
	r := &Registry{
		descs:      make(map[string]desc),
		counters:   make(map[string]map[string]*counter),
		histograms: make(map[string]map[string]*histogram),
	}
	r.RegisterCounter("costplane_signals_total", "Termination signals received by outcome.")
	r.RegisterCounter("costplane_schedule_creates_total", "Deferred trigger registrations by status (ok, duplicate, error).")
	r.RegisterCounter("costplane_schedule_deletes_total", "Trigger deletions by origin and status.")
	r.RegisterCounter("costplane_collections_total", "Collection runs by status.")
	r.RegisterHistogram("costplane_collection_duration_ms", "End-to-end collection run duration in milliseconds.", latencyBuckets)
	r.RegisterCounter("costplane_billing_pages_total", "Billing API pages fetched by query kind.")
	r.RegisterHistogram("costplane_billing_query_latency_ms", "Billing API page latency in milliseconds by query kind.", latencyBuckets)
	r.RegisterCounter("costplane_retries_total", "Retried external calls by operation and error code.")
	r.RegisterCounter("costplane_retry_exhausted_total", "External calls that exhausted their retry budget by operation.")
	r.RegisterCounter("costplane_reaper_schedules_total", "Reaper sweep results by disposition (scanned, stale, deleted, already_gone, failed).")
	r.RegisterHistogram("costplane_reaper_sweep_duration_ms", "Reaper sweep duration in milliseconds.", latencyBuckets)
	r.RegisterCounter("costplane_job_runs_total", "Background job runs by job and status.")
	r.RegisterHistogram("costplane_job_duration_ms", "Background job duration in milliseconds by job.", latencyBuckets)
	return r
}

func (r *Registry) RegisterCounter(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[name] = desc{name: name, help: help, kind: kindCounter}
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	cp := append([]float64(nil), buckets...)
	sort.Float64s(cp)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[name] = desc{name: name, help: help, kind: kindHistogram, buckets: cp}
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.AddCounter(name, 1, labels)
}

func (r *Registry) AddCounter(name string, delta uint64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[name]
	if !ok || d.kind != kindCounter {
		return
	}
	series := r.counters[name]
	if series == nil {
		series = make(map[string]*counter)
		r.counters[name] = series
	}
	key := labelKey(labels)
	c := series[key]
	if c == nil {
		c = &counter{labels: copyLabels(labels)}
		series[key] = c
	}
	c.value += delta
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[name]
	if !ok || d.kind != kindHistogram {
		return
	}
	series := r.histograms[name]
	if series == nil {
		series = make(map[string]*histogram)
		r.histograms[name] = series
	}
	key := labelKey(labels)
	h := series[key]
	if h == nil {
		h = &histogram{labels: copyLabels(labels), bucketN: make([]uint64, len(d.buckets)+1)}
		series[key] = h
	}
	idx := len(d.buckets)
	for i, b := range d.buckets {
		if value <= b {
			idx = i
			break
		}
	}
	h.bucketN[idx]++
	h.count++
	h.sum += value
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		d := r.descs[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, d.help, name, d.kind)

		switch d.kind {
		case kindCounter:
			for _, key := range sortedKeys(r.counters[name]) {
				c := r.counters[name][key]
				writeSample(&b, name, c.labels, strconv.FormatUint(c.value, 10))
			}
		case kindHistogram:
			for _, key := range sortedKeys(r.histograms[name]) {
				h := r.histograms[name][key]
				var cumulative uint64
				for i, n := range h.bucketN {
					cumulative += n
					le := "+Inf"
					if i < len(d.buckets) {
						le = formatFloat(d.buckets[i])
					}
					withLE := copyLabels(h.labels)
					withLE["le"] = le
					writeSample(&b, name+"_bucket", withLE, strconv.FormatUint(cumulative, 10))
				}
				writeSample(&b, name+"_sum", h.labels, formatFloat(h.sum))
				writeSample(&b, name+"_count", h.labels, strconv.FormatUint(h.count, 10))
			}
		}
	}
	return b.String()
}

func sortedKeys[T any](m map[string]*T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeSample(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(b, "%s=%q", k, labels[k])
		}
		b.WriteString("}")
	}
	b.WriteString(" ")
	b.WriteString(value)
	b.WriteString("\n")
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
		b.WriteString(";")
	}
	return b.String()
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if s == "" {
		return "0"
	}
	return s
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
