// Package metrics exports sync and startup metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mschirtzinger/tally/internal/turso/daemon"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
)

const namespace = "tally"

// Recorder holds the ledger metrics. A nil *Recorder ignores every call.
type Recorder struct {
	registry *prom.Registry

	syncDuration  *prom.HistogramVec
	syncResults   *prom.CounterVec
	lastSync      prom.Gauge
	configChanges *prom.CounterVec
	startup       *prom.HistogramVec
	cloudSync     prom.Gauge
	recoveries    prom.Counter
}

var _ daemon.Events = (*Recorder)(nil)

// NewRecorder creates a Recorder on its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		syncDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of syncs with the remote primary",
			Buckets:   prom.DefBuckets,
		}, []string{"trigger", "result"}),
		syncResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sync_results_total",
			Help:      "Sync attempts by trigger and outcome",
		}, []string{"trigger", "result"}),
		lastSync: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_sync_timestamp_seconds",
			Help:      "Unix time of the last successful sync",
		}),
		configChanges: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sync_config_changes_total",
			Help:      "Changes to sync_config.json seen while running",
		}, []string{"op"}),
		startup: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_duration_seconds",
			Help:      "Time from process start to a published database",
			Buckets:   prom.DefBuckets,
		}, []string{"mode"}),
		cloudSync: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "cloud_sync_enabled",
			Help:      "1 when the live database replicates to a primary",
		}),
		recoveries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_recoveries_total",
			Help:      "Startups that quarantined the database after a sync conflict",
		}),
	}

	r.registry.MustRegister(r.syncDuration, r.syncResults, r.lastSync, r.configChanges,
		r.startup, r.cloudSync, r.recoveries)
	r.registry.MustRegister(promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return r
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveStartup records how startup ended.
func (r *Recorder) ObserveStartup(mode string, recovered bool, d time.Duration) {
	if r == nil {
		return
	}
	r.startup.WithLabelValues(mode).Observe(d.Seconds())
	if mode == "cloud" {
		r.cloudSync.Set(1)
	} else {
		r.cloudSync.Set(0)
	}
	if recovered {
		r.recoveries.Inc()
	}
}

// OnSyncComplete records a successful sync.
func (r *Recorder) OnSyncComplete(trigger daemon.Trigger, d time.Duration) {
	if r == nil {
		return
	}
	r.syncDuration.WithLabelValues(string(trigger), "success").Observe(d.Seconds())
	r.syncResults.WithLabelValues(string(trigger), "success").Inc()
	r.lastSync.SetToCurrentTime()
}

// OnSyncFailed records a failed sync.
func (r *Recorder) OnSyncFailed(trigger daemon.Trigger, _ error) {
	if r == nil {
		return
	}
	r.syncResults.WithLabelValues(string(trigger), "failed").Inc()
}

// OnConfigChanged records a change to the sync sidecar.
func (r *Recorder) OnConfigChanged(ev syncconfig.Event) {
	if r == nil {
		return
	}
	r.configChanges.WithLabelValues(ev.Op.String()).Inc()
}
