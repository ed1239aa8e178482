// Package metrics exposes session statistics as Prometheus metrics.
//
// The Collector reads a fresh session snapshot on every scrape, so no
// counters are duplicated outside the session.
package metrics

import (
	"strconv"

	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Source provides the snapshot to export. *session.Session implements it.
type Source interface {
	Snapshot() session.Snapshot
}

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "ovtransport").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	source Source

	running      *prometheus.Desc
	txBytes      *prometheus.Desc
	rxBytes      *prometheus.Desc
	authFailures *prometheus.Desc
	malformed    *prometheus.Desc
	held         *prometheus.Desc
	activePeers  *prometheus.Desc

	received  *prometheus.Desc
	lost      *prometheus.Desc
	seqErrIn  *prometheus.Desc
	seqErrOut *prometheus.Desc

	latency    *prometheus.Desc
	pingsSent  *prometheus.Desc
	pingsRecvd *prometheus.Desc
}

// NewCollector creates a collector for source.
func NewCollector(source Source, opts ...Option) *Collector {
	cfg := Config{Namespace: "ovtransport"}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.Namespace, "", name), help, labels, cfg.ConstLabels)
	}

	return &Collector{
		source:       source,
		running:      desc("running", "Whether the session worker loops are active."),
		txBytes:      desc("tx_bytes_total", "Bytes sent on the peer-facing socket."),
		rxBytes:      desc("rx_bytes_total", "Bytes received on the peer-facing socket."),
		authFailures: desc("auth_failures_total", "Datagrams dropped for a bad authentication tag."),
		malformed:    desc("malformed_total", "Datagrams dropped for an inconsistent length."),
		held:         desc("held_messages", "Messages currently held for reordering."),
		activePeers:  desc("active_peers", "Peers refreshed within the endpoint timeout."),
		received:     desc("peer_received_total", "Data messages received from a peer.", "peer"),
		lost:         desc("peer_lost", "Data messages missing from a peer's sequence.", "peer"),
		seqErrIn:     desc("peer_seqerr_in_total", "Sequence inversions on input.", "peer"),
		seqErrOut:    desc("peer_seqerr_out_total", "Sequence inversions left after reordering.", "peer"),
		latency:      desc("peer_latency_ms", "Round-trip time statistics in milliseconds.", "peer", "path", "stat"),
		pingsSent:    desc("peer_pings_sent_total", "Latency probes sent.", "peer", "path"),
		pingsRecvd:   desc("peer_pings_received_total", "Latency probes answered.", "peer", "path"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.running, c.txBytes, c.rxBytes, c.authFailures, c.malformed, c.held, c.activePeers,
		c.received, c.lost, c.seqErrIn, c.seqErrOut, c.latency, c.pingsSent, c.pingsRecvd,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	running := 0.0
	if snap.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(snap.TxBytes))
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(snap.RxBytes))
	ch <- prometheus.MustNewConstMetric(c.authFailures, prometheus.CounterValue, float64(snap.AuthFailures))
	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(snap.Malformed))
	ch <- prometheus.MustNewConstMetric(c.held, prometheus.GaugeValue, float64(snap.Held))
	ch <- prometheus.MustNewConstMetric(c.activePeers, prometheus.GaugeValue, float64(len(snap.Peers)))

	for _, p := range snap.Peers {
		peer := strconv.Itoa(int(p.Endpoint.ID))
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(p.Stats.Received), peer)
		ch <- prometheus.MustNewConstMetric(c.lost, prometheus.GaugeValue, float64(p.Stats.Lost), peer)
		ch <- prometheus.MustNewConstMetric(c.seqErrIn, prometheus.CounterValue, float64(p.Stats.SeqErrIn), peer)
		ch <- prometheus.MustNewConstMetric(c.seqErrOut, prometheus.CounterValue, float64(p.Stats.SeqErrOut), peer)

		for _, path := range latency.Paths {
			sum, ok := p.Latency[path]
			if !ok {
				continue
			}
			name := path.String()
			ch <- prometheus.MustNewConstMetric(c.pingsSent, prometheus.CounterValue, float64(sum.Sent), peer, name)
			ch <- prometheus.MustNewConstMetric(c.pingsRecvd, prometheus.CounterValue, float64(sum.Received), peer, name)
			if sum.Received == 0 {
				continue
			}
			for stat, v := range map[string]float64{
				"min":    sum.Min,
				"median": sum.Median,
				"p99":    sum.P99,
				"mean":   sum.Mean,
			} {
				ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, v, peer, name, stat)
			}
		}
	}
}
