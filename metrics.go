package agrimesh

import "github.com/prometheus/client_golang/prometheus"

// metrics are internal-only counters (SPEC_FULL.md §11): this package never
// starts an HTTP server or otherwise exposes them, it only registers them on
// a registry owned by the node so a collaborator that already runs a
// dashboard/metrics endpoint can scrape this process alongside its own via
// Mesh.Registry(). A node-owned registry (rather than prometheus's global
// default) also means two Meshes in the same process never collide trying
// to register the same collector name twice.
type metrics struct {
	registry *prometheus.Registry

	messagesForwarded prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	messagesStored    prometheus.Counter
	handshakesOK      prometheus.Counter
	connectionsClosed prometheus.Counter
	seenSetSize       prometheus.Gauge
	knownPeersSize    prometheus.Gauge
}

func newMetrics(selfID string) *metrics {
	labels := prometheus.Labels{"peer_id": selfID}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		messagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "messages_forwarded_total",
			Help:        "Messages forwarded one hop closer to their target.",
			ConstLabels: labels,
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "messages_delivered_total",
			Help:        "Messages dispatched to a local handler.",
			ConstLabels: labels,
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "messages_dropped_total",
			Help:        "Messages dropped, labeled by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "messages_stored_total",
			Help:        "Messages written to the offline queue.",
			ConstLabels: labels,
		}),
		handshakesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "handshakes_completed_total",
			Help:        "Handshakes that reached the COMPLETE state.",
			ConstLabels: labels,
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "agrimesh",
			Name:        "connections_closed_total",
			Help:        "Links torn down, for any reason.",
			ConstLabels: labels,
		}),
		seenSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "agrimesh",
			Name:        "seen_set_size",
			Help:        "Current size of the loop-suppression LRU.",
			ConstLabels: labels,
		}),
		knownPeersSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "agrimesh",
			Name:        "known_peers_size",
			Help:        "Current size of the known-peers directory.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messagesForwarded, m.messagesDelivered, m.messagesDropped,
		m.messagesStored, m.handshakesOK, m.connectionsClosed,
		m.seenSetSize, m.knownPeersSize,
	} {
		m.registry.MustRegister(c)
	}

	return m
}
