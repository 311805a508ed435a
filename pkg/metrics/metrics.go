// Package metrics exposes the platform's Prometheus instrumentation.
//
// One Registry carries every collector and satisfies the narrow metrics
// interfaces of the gateway, permission and version packages, so components
// depend on a method or two instead of prometheus types.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all platform collectors.
type Registry struct {
	reg *prometheus.Registry

	wsConnections       prometheus.Gauge
	eventsDropped       prometheus.Counter
	auditWritesMissed   prometheus.Counter
	corruptionFallbacks prometheus.Counter
	uploadsAccepted     prometheus.Counter
	uploadsRejected     *prometheus.CounterVec
}

// New creates the registry with all static collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "untxt_websocket_connections",
			Help: "Open websocket connections.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "untxt_gateway_events_dropped_total",
			Help: "Events dropped from slow websocket send buffers.",
		}),
		auditWritesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "untxt_audit_writes_missed_total",
			Help: "Audit rows that failed to persist.",
		}),
		corruptionFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "untxt_version_corruption_fallbacks_total",
			Help: "Latest-version reads served from the original after corruption.",
		}),
		uploadsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "untxt_uploads_accepted_total",
			Help: "Uploads accepted into the processing pipeline.",
		}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "untxt_uploads_rejected_total",
			Help: "Uploads rejected before queueing.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.wsConnections,
		r.eventsDropped,
		r.auditWritesMissed,
		r.corruptionFallbacks,
		r.uploadsAccepted,
		r.uploadsRejected,
	)
	return r
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ConnectionOpened implements the gateway metrics interface.
func (r *Registry) ConnectionOpened() { r.wsConnections.Inc() }

// ConnectionClosed implements the gateway metrics interface.
func (r *Registry) ConnectionClosed() { r.wsConnections.Dec() }

// EventDropped implements the gateway metrics interface.
func (r *Registry) EventDropped() { r.eventsDropped.Inc() }

// AuditWriteMissed implements the permission metrics interface.
func (r *Registry) AuditWriteMissed() { r.auditWritesMissed.Inc() }

// CorruptionFallback implements the version engine metrics interface.
func (r *Registry) CorruptionFallback() { r.corruptionFallbacks.Inc() }

// UploadAccepted counts one accepted upload.
func (r *Registry) UploadAccepted() { r.uploadsAccepted.Inc() }

// UploadRejected counts one rejected upload by reason.
func (r *Registry) UploadRejected(reason string) {
	r.uploadsRejected.WithLabelValues(reason).Inc()
}

// RegisterQueueDepth exposes the work queue depth as a gauge sampled at
// scrape time.
func (r *Registry) RegisterQueueDepth(depth func(ctx context.Context) (int64, error)) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "untxt_queue_depth",
		Help: "Tasks waiting in the work queue.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := depth(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

// RegisterTaskCounters exposes the terminal task counters (served from the
// redis stats mirror) as gauges sampled at scrape time.
func (r *Registry) RegisterTaskCounters(stats func(ctx context.Context) (completed, failed int64, err error)) {
	sample := func(pick func(completed, failed int64) int64) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			completed, failed, err := stats(ctx)
			if err != nil {
				return -1
			}
			return float64(pick(completed, failed))
		}
	}

	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "untxt_tasks_completed_total",
		Help: "Tasks that reached completed.",
	}, sample(func(completed, _ int64) int64 { return completed })))

	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "untxt_tasks_failed_total",
		Help: "Tasks that reached failed.",
	}, sample(func(_, failed int64) int64 { return failed })))
}
