package observability

import (
	"sort"
	"strings"
	"sync"
)

// Counter names recorded by the pipeline.
const (
	CounterStageRuns     = "stage_runs_total"
	CounterStageCacheHit = "stage_cache_hits_total"
	CounterStageFailures = "stage_failures_total"
	CounterBuilds        = "builds_total"
	CounterBuildJoins    = "build_joins_total"
)

type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type metricEntry struct {
	name   string
	labels map[string]string
	value  float64
}

// Registry is a small concurrency-safe counter set exposed over HTTP.
type Registry struct {
	mu       sync.Mutex
	counters map[string]metricEntry
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]metricEntry)}
}

func (r *Registry) Inc(name string, labels map[string]string) {
	if r == nil {
		return
	}
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.counters[k]
	if e.name == "" {
		e = metricEntry{name: name, labels: lcopy}
	}
	e.value++
	r.counters[k] = e
}

// Value returns the current counter value for an exact label set.
func (r *Registry) Value(name string, labels map[string]string) float64 {
	if r == nil {
		return 0
	}
	k, _ := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[k].value
}

// Snapshot returns all counters sorted by name then key.
func (r *Registry) Snapshot() []MetricPoint {
	if r == nil {
		return []MetricPoint{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.counters))
	for k := range r.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]MetricPoint, 0, len(keys))
	for _, k := range keys {
		e := r.counters[k]
		out = append(out, MetricPoint{Name: e.name, Labels: cloneMap(e.labels), Value: e.value})
	}
	return out
}

func metricKey(name string, labels map[string]string) (string, map[string]string) {
	if len(labels) == 0 {
		return name, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String(), cloneMap(labels)
}

func cloneMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
