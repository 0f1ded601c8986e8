// Package metrics exposes Peer-level statistics (§3 "Peer ... Owns pools,
// statistics") as Prometheus collectors, grounded in
// runZeroInc-conniver/runZeroInc-sockstats and xendarboh-katzenpost, all
// three of which depend on github.com/prometheus/client_golang directly.
// The core transport never imports this package directly; Peer keeps its
// own plain-field Stats (teacher style, see source/server.Server.
// GetPlayerCount) and an adapter (cmd/echo-peer) mirrors it into these
// collectors for anyone scraping /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the gauges/counters a Peer's Stats snapshot feeds.
type Collectors struct {
	PacketsSent      prometheus.Counter
	PacketsReceived  prometheus.Counter
	PacketsDropped   prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Retransmits      prometheus.Counter
	AcksSent         prometheus.Counter
	Connections      prometheus.Gauge
	RTT              prometheus.Histogram
}

// NewCollectors constructs and registers a fresh set of collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_packets_sent_total",
			Help: "Datagrams sent by the peer.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_packets_received_total",
			Help: "Datagrams received by the peer.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_packets_dropped_total",
			Help: "Datagrams dropped as malformed or during congestion.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_bytes_sent_total",
			Help: "Bytes sent by the peer.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_bytes_received_total",
			Help: "Bytes received by the peer.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_retransmits_total",
			Help: "Reliable messages retransmitted.",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliablenet_acks_sent_total",
			Help: "Ack entries sent.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliablenet_connections",
			Help: "Currently established connections.",
		}),
		RTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reliablenet_rtt_seconds",
			Help:    "Smoothed per-connection RTT observations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.PacketsSent, c.PacketsReceived, c.PacketsDropped,
		c.BytesSent, c.BytesReceived, c.Retransmits, c.AcksSent,
		c.Connections, c.RTT)
	return c
}
