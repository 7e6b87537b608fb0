// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "melonup"

// Metrics are the per-run Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	unitsChecked   *prometheus.CounterVec
	unitResults    *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	rotten         prometheus.Gauge
	lookupDuration prometheus.Histogram
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		unitsChecked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "units_checked_total",
			Help:      "Managed units that went through the update pipeline.",
		}, []string{"directory"}),
		unitResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unit_results_total",
			Help:      "Unit outcomes by status.",
		}, []string{"status"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloads_total",
			Help:      "Download attempts by outcome.",
		}, []string{"outcome"}),
		rotten: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "extensions_rotten",
			Help:      "Extensions unloaded during the run.",
		}),
		lookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lookup_duration_seconds",
			Help:      "Time spent resolving the latest release of a unit.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) unitChecked(directory string) {
	if m != nil {
		m.unitsChecked.WithLabelValues(directory).Inc()
	}
}

func (m *Metrics) result(s Status) {
	if m != nil {
		m.unitResults.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) download(outcome string) {
	if m != nil {
		m.downloads.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) lookup(seconds float64) {
	if m != nil {
		m.lookupDuration.Observe(seconds)
	}
}

func (m *Metrics) setRotten(n int) {
	if m != nil {
		m.rotten.Set(float64(n))
	}
}
