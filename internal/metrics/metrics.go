// Package metrics exposes squaled's pool/worker counters as Prometheus
// collectors, per SPEC_FULL.md §4.2, refreshed from pool.Stats snapshots
// rather than updated inline by the hot path. The admin API's
// /stats/stream loop is the only caller of Observe and
// SetConnectedClients; a /metrics scrape serves the values of the last
// such refresh.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/squaled/squaled/internal/pool"
)

// Collectors groups the gauges/counters reported under /metrics.
type Collectors struct {
	PendingJobs    *prometheus.GaugeVec
	ProcessedTotal *prometheus.GaugeVec
	ErrorsTotal    *prometheus.GaugeVec
	AvgAssignMs    *prometheus.GaugeVec
	AvgProcessMs   *prometheus.GaugeVec
	NumWorkers     *prometheus.GaugeVec
	ConnectedClients prometheus.Gauge
}

// New registers and returns the Collectors on the given registerer.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PendingJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_pending_jobs",
			Help: "Jobs currently queued in a pool, not yet assigned to a worker.",
		}, []string{"pool"}),
		ProcessedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_processed_jobs_total",
			Help: "Jobs a pool's workers have completed since the pool last reopened.",
		}, []string{"pool"}),
		ErrorsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_errors_total",
			Help: "Jobs a pool's workers completed with a driver error.",
		}, []string{"pool"}),
		AvgAssignMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_avg_assign_ms",
			Help: "Average milliseconds between a job's creation and assignment.",
		}, []string{"pool"}),
		AvgProcessMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_avg_process_ms",
			Help: "Average milliseconds a worker spends executing a job.",
		}, []string{"pool"}),
		NumWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "squaled_pool_num_workers",
			Help: "Workers currently attached to a pool.",
		}, []string{"pool"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "squaled_connected_clients",
			Help: "Client connections currently being served.",
		}),
	}

	reg.MustRegister(
		c.PendingJobs, c.ProcessedTotal, c.ErrorsTotal,
		c.AvgAssignMs, c.AvgProcessMs, c.NumWorkers, c.ConnectedClients,
	)
	return c
}

// Observe refreshes every per-pool gauge from a fresh Stats snapshot.
func (c *Collectors) Observe(name string, s pool.Stats) {
	c.PendingJobs.WithLabelValues(name).Set(float64(s.Pending))
	c.ProcessedTotal.WithLabelValues(name).Set(float64(s.ProcessedJobs))
	c.ErrorsTotal.WithLabelValues(name).Set(float64(s.ErrorJobs))
	c.AvgAssignMs.WithLabelValues(name).Set(s.AvgAssignMs)
	c.AvgProcessMs.WithLabelValues(name).Set(s.AvgProcessMs)
	c.NumWorkers.WithLabelValues(name).Set(float64(s.NumWorkers))
}

// SetConnectedClients updates the process-wide connected-client gauge.
func (c *Collectors) SetConnectedClients(n int) {
	c.ConnectedClients.Set(float64(n))
}
