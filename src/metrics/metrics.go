// Package metrics exposes the Prometheus collectors of a ledger node. Every
// method is safe to call on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Metrics holds the collectors of one node, registered on their own registry
// so that several nodes can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	SyncRounds      *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	UpdatesSent     prometheus.Counter
	UpdatesReceived *prometheus.CounterVec
	UpdatesFailed   prometheus.Counter
	Resolutions     *prometheus.CounterVec
	BlocksCommitted prometheus.Counter
	ForkOutcomes    *prometheus.CounterVec
	ChainHeight     prometheus.Gauge
	ActivePeers     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SyncRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_rounds_total",
				Help:      "Sync attempts with a peer, by outcome.",
			},
			[]string{"outcome"}, // ok | error
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Time to sync a batch with a peer.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"peer"},
		),
		UpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_sent_total",
			Help:      "Sync updates delivered to peers.",
		}),
		UpdatesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_received_total",
				Help:      "Sync updates received from peers, by result.",
			},
			[]string{"result"}, // accepted | rejected
		),
		UpdatesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_failed_total",
			Help:      "Sync updates that reached the retry cap.",
		}),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_resolutions_total",
				Help:      "Conflicts between local and received updates, by resolution.",
			},
			[]string{"resolution"},
		),
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_committed_total",
			Help:      "Blocks committed by this node.",
		}),
		ForkOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forks_total",
				Help:      "Competing chains seen, by outcome.",
			},
			[]string{"outcome"},
		),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Height of the committed chain.",
		}),
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_peers",
			Help:      "Peers considered reachable at the last sync cycle.",
		}),
	}

	m.Registry.MustRegister(
		m.SyncRounds, m.SyncDuration,
		m.UpdatesSent, m.UpdatesReceived, m.UpdatesFailed,
		m.Resolutions,
		m.BlocksCommitted, m.ForkOutcomes, m.ChainHeight,
		m.ActivePeers,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveSync records the outcome of syncing with one peer.
func (m *Metrics) ObserveSync(peer string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SyncRounds.WithLabelValues(outcome).Inc()
	m.SyncDuration.WithLabelValues(peer).Observe(seconds)
}

// AddSent ...
func (m *Metrics) AddSent(n int) {
	if m == nil {
		return
	}
	m.UpdatesSent.Add(float64(n))
}

// AddReceived ...
func (m *Metrics) AddReceived(accepted, rejected int) {
	if m == nil {
		return
	}
	m.UpdatesReceived.WithLabelValues("accepted").Add(float64(accepted))
	m.UpdatesReceived.WithLabelValues("rejected").Add(float64(rejected))
}

// AddFailed ...
func (m *Metrics) AddFailed(n int) {
	if m == nil {
		return
	}
	m.UpdatesFailed.Add(float64(n))
}

// ObserveResolution ...
func (m *Metrics) ObserveResolution(resolution string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(resolution).Inc()
}

// ObserveBlock records a committed block and the new chain height.
func (m *Metrics) ObserveBlock(height uint64) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.ChainHeight.Set(float64(height))
}

// ObserveFork records how a competing chain was handled.
func (m *Metrics) ObserveFork(outcome string, height uint64) {
	if m == nil {
		return
	}
	m.ForkOutcomes.WithLabelValues(outcome).Inc()
	m.ChainHeight.Set(float64(height))
}

// SetActivePeers ...
func (m *Metrics) SetActivePeers(n int) {
	if m == nil {
		return
	}
	m.ActivePeers.Set(float64(n))
}
