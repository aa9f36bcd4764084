package asynccache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bool64/stats"
	"github.com/prometheus/client_golang/prometheus"
)

var _ stats.Tracker = &PrometheusTracker{}

// PrometheusTracker exposes cache stats as Prometheus metrics.
//
// Add is reported with counters and Set with gauges, label names are taken from
// labelsAndValues of the first report of a metric. Please use NewPrometheusTracker to create instance.
type PrometheusTracker struct {
	reg       prometheus.Registerer
	namespace string

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPrometheusTracker creates a tracker that registers metrics in reg, prometheus.DefaultRegisterer is used if reg is nil.
func NewPrometheusTracker(reg prometheus.Registerer, namespace string) *PrometheusTracker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &PrometheusTracker{
		reg:       reg,
		namespace: namespace,
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
	}
}

// Add increments a counter.
func (p *PrometheusTracker) Add(_ context.Context, name string, increment float64, labelsAndValues ...string) {
	if increment < 0 {
		return
	}

	names, labels := splitLabels(labelsAndValues)

	p.mu.Lock()
	vec, ok := p.counters[name]

	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      name + "_total",
			Help:      "Cache counter " + strings.ReplaceAll(name, "_", " ") + ".",
		}, names)

		if err := p.reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				p.mu.Unlock()

				return
			}

			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				vec = existing
			}
		}

		p.counters[name] = vec
	}
	p.mu.Unlock()

	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Add(increment)
	}
}

// Set sets a gauge.
func (p *PrometheusTracker) Set(_ context.Context, name string, absolute float64, labelsAndValues ...string) {
	names, labels := splitLabels(labelsAndValues)

	p.mu.Lock()
	vec, ok := p.gauges[name]

	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      "Cache gauge " + strings.ReplaceAll(name, "_", " ") + ".",
		}, names)

		if err := p.reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				p.mu.Unlock()

				return
			}

			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				vec = existing
			}
		}

		p.gauges[name] = vec
	}
	p.mu.Unlock()

	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Set(absolute)
	}
}

func splitLabels(labelsAndValues []string) ([]string, prometheus.Labels) {
	names := make([]string, 0, len(labelsAndValues)/2)
	labels := make(prometheus.Labels, len(labelsAndValues)/2)

	for i := 0; i+1 < len(labelsAndValues); i += 2 {
		names = append(names, labelsAndValues[i])
		labels[labelsAndValues[i]] = labelsAndValues[i+1]
	}

	return names, labels
}
