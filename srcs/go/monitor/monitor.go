package monitor

import (
	"net/http"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor records rendezvous traffic and planner activity.
type Monitor interface {
	http.Handler

	Egress(n int64)
	Ingress(n int64)
	Connection(accepted bool)
	Handshake(role string, d time.Duration, err error)
	Planned(op base.CollType, executor string, tasks int)
	TagCache(n int)
}

var defaultMonitor = newMonitor(prometheus.NewRegistry())

func GetMonitor() Monitor {
	return defaultMonitor
}

type promMonitor struct {
	registry *prometheus.Registry
	handler  http.Handler
	m        *metrics
}

func newMonitor(r *prometheus.Registry) *promMonitor {
	return &promMonitor{
		registry: r,
		handler:  promhttp.HandlerFor(r, promhttp.HandlerOpts{}),
		m:        newMetrics(r),
	}
}

func (p *promMonitor) Egress(n int64) {
	p.m.bytes.WithLabelValues("egress").Add(float64(n))
}

func (p *promMonitor) Ingress(n int64) {
	p.m.bytes.WithLabelValues("ingress").Add(float64(n))
}

func (p *promMonitor) Connection(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	p.m.connections.WithLabelValues(result).Inc()
}

func (p *promMonitor) Handshake(role string, d time.Duration, err error) {
	p.m.handshakes.WithLabelValues(role, base.CodeOf(err).String()).Observe(d.Seconds())
}

func (p *promMonitor) Planned(op base.CollType, executor string, tasks int) {
	p.m.plans.WithLabelValues(op.String(), executor).Inc()
	p.m.tasks.WithLabelValues(op.String()).Add(float64(tasks))
}

func (p *promMonitor) TagCache(n int) {
	p.m.tagCache.Set(float64(n))
}

func (p *promMonitor) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.handler.ServeHTTP(w, req)
}
