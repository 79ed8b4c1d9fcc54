package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensorgraph"

// Metrics contains the process-level metrics shared by the HTTP facade, the
// graph store and the NATS client.
type Metrics struct {
	// HTTP facade
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Graph store
	GraphCommits       *prometheus.CounterVec
	GraphConflicts     *prometheus.CounterVec
	GraphAborts        *prometheus.CounterVec
	GraphUnitOfWork    *prometheus.HistogramVec
	GraphSnapshotBytes *prometheus.GaugeVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		GraphCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "commits_total",
				Help:      "Units of work committed to the graph backend",
			},
			[]string{"backend"},
		),

		GraphConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "conflicts_total",
				Help:      "Revision conflicts that caused a unit of work to be re-run",
			},
			[]string{"backend"},
		),

		GraphAborts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "aborts_total",
				Help:      "Units of work that ended without a commit",
			},
			[]string{"backend"},
		),

		GraphUnitOfWork: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "unit_of_work_seconds",
				Help:      "Duration of graph units of work",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend", "mode"},
		),

		GraphSnapshotBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "snapshot_bytes",
				Help:      "Encoded size of the last committed graph snapshot",
			},
			[]string{"backend"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.HTTPRequests,
		c.HTTPRequestDuration,
		c.GraphCommits,
		c.GraphConflicts,
		c.GraphAborts,
		c.GraphUnitOfWork,
		c.GraphSnapshotBytes,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordHTTPRequest counts a finished request and observes its latency
func (c *Metrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordGraphCommit counts a commit and records the snapshot size it produced
func (c *Metrics) RecordGraphCommit(backend string, snapshotBytes int) {
	c.GraphCommits.WithLabelValues(backend).Inc()
	c.GraphSnapshotBytes.WithLabelValues(backend).Set(float64(snapshotBytes))
}

// RecordGraphConflict counts a revision conflict
func (c *Metrics) RecordGraphConflict(backend string) {
	c.GraphConflicts.WithLabelValues(backend).Inc()
}

// RecordGraphAbort counts a unit of work that did not commit
func (c *Metrics) RecordGraphAbort(backend string) {
	c.GraphAborts.WithLabelValues(backend).Inc()
}

// RecordUnitOfWork observes the duration of an update or view
func (c *Metrics) RecordUnitOfWork(backend, mode string, duration time.Duration) {
	c.GraphUnitOfWork.WithLabelValues(backend, mode).Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
