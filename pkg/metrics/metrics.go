package metrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/rcrowley/go-metrics/exp"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Registry is a Collector backed by a go-metrics registry. Labels are folded
// into the metric name as dot separated values ordered by label key.
type Registry struct {
	reg metrics.Registry
}

var defaultRegistry = &Registry{reg: metrics.DefaultRegistry}

// Default returns the process wide registry served on /metrics.
func Default() *Registry {
	return defaultRegistry
}

func NewRegistry() *Registry {
	return &Registry{reg: metrics.NewRegistry()}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	metrics.GetOrRegisterCounter(Name(name, labels), r.reg).Inc(int64(delta))
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	metrics.GetOrRegisterGaugeFloat64(Name(name, labels), r.reg).Update(value)
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	h := metrics.GetOrRegisterHistogram(Name(name, labels), r.reg, metrics.NewExpDecaySample(1028, 0.015))
	h.Update(int64(value))
}

// Mark creates and increments a Meter
func (r *Registry) Mark(name string) {
	metrics.GetOrRegisterMeter(name, r.reg).Mark(1)
}

// UpdateSince creates and updates a Timer
func (r *Registry) UpdateSince(name string, since time.Time) {
	metrics.GetOrRegisterTimer(name, r.reg).UpdateSince(since)
}

// UpdateGauge changes Gauge value
func (r *Registry) UpdateGauge(name string, value int64) {
	metrics.GetOrRegisterGauge(name, r.reg).Update(value)
}

// Get returns the registered metric or nil.
func (r *Registry) Get(name string) any {
	return r.reg.Get(name)
}

// Clear removes all metrics in the registry.
func (r *Registry) Clear() {
	r.reg.UnregisterAll()
}

// Handler serves the registry as expvar style JSON.
func (r *Registry) Handler() http.Handler {
	return exp.ExpHandler(r.reg)
}

// Mark increments a Meter in the default registry.
func Mark(name string) {
	defaultRegistry.Mark(name)
}

// UpdateSince updates a Timer in the default registry.
func UpdateSince(name string, since time.Time) {
	defaultRegistry.UpdateSince(name, since)
}

// UpdateGauge changes a Gauge in the default registry.
func UpdateGauge(name string, value int64) {
	defaultRegistry.UpdateGauge(name, value)
}

// Name builds the flat metric name for name and labels.
func Name(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('.')
		b.WriteString(Clean(labels[k]))
	}
	return b.String()
}

// Clean replaces metric path separators with underscore
func Clean(s string) string {
	if s == "" {
		return "_"
	}
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return strings.ToLower(s)
}
