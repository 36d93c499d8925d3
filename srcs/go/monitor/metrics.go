package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hccl"

type metrics struct {
	bytes       *prometheus.CounterVec
	connections *prometheus.CounterVec
	handshakes  *prometheus.HistogramVec
	plans       *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	tagCache    prometheus.Gauge
}

func newMetrics(r prometheus.Registerer) *metrics {
	f := promauto.With(r)
	return &metrics{
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "bytes_total",
			Help:      "Bytes moved by the topology exchange.",
		}, []string{"direction"}),
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "connections_total",
			Help:      "Agent connections seen by the rendezvous server.",
		}, []string{"result"}),
		handshakes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "handshake_seconds",
			Help:      "Duration of one topology exchange.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"role", "result"}),
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Execution plans built, by operation and executor.",
		}, []string{"op", "executor"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "tasks_total",
			Help:      "Tasks handed to the execution engine.",
		}, []string{"op"}),
		tagCache: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "communicator",
			Name:      "tag_cache_entries",
			Help:      "Cached per-tag execution resources.",
		}),
	}
}
