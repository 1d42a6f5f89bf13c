// Package metrics holds the Prometheus collectors shared by the ingestion path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ecg"

// Metrics groups the counters and gauges exported by the service.
type Metrics struct {
	PacketsReceived    prometheus.Counter
	PacketsMalformed   prometheus.Counter
	TransportErrors    prometheus.Counter
	SamplesAccepted    prometheus.Counter
	BufferLength       prometheus.Gauge
	BufferEvictions    prometheus.Counter
	Subscribers        prometheus.Gauge
	HubDrops           prometheus.Counter
	SubscribersEvicted prometheus.Counter
	RelayPublished     prometheus.Counter
	SamplesSent        prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests and one-shot commands want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "packets_received_total",
			Help:      "Datagrams read from the ingestion socket.",
		}),
		PacketsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "packets_malformed_total",
			Help:      "Datagrams dropped because their length was not 4 bytes.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "transport_errors_total",
			Help:      "Socket read errors encountered by the receive loop.",
		}),
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "samples_accepted_total",
			Help:      "Samples appended to the buffer and published to the hub.",
		}),
		BufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "length",
			Help:      "Samples currently held in the recent-history buffer.",
		}),
		BufferEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "evictions_total",
			Help:      "Oldest samples evicted to make room for new ones.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Live subscribers registered with the hub.",
		}),
		HubDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Queued samples discarded by drop-oldest backpressure.",
		}),
		SubscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers removed after their transport failed.",
		}),
		RelayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Samples forwarded to the message bus.",
		}),
		SamplesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sender",
			Name:      "samples_sent_total",
			Help:      "Datagrams emitted by the sender.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PacketsReceived,
			m.PacketsMalformed,
			m.TransportErrors,
			m.SamplesAccepted,
			m.BufferLength,
			m.BufferEvictions,
			m.Subscribers,
			m.HubDrops,
			m.SubscribersEvicted,
			m.RelayPublished,
			m.SamplesSent,
		)
	}

	return m
}
