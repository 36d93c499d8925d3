package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *promMonitor) string {
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func Test_Monitor(t *testing.T) {
	m := newMonitor(prometheus.NewRegistry())
	m.Egress(3)
	m.Ingress(2)
	m.Connection(true)
	m.Connection(false)
	m.Handshake("server", 10*time.Millisecond, nil)
	m.Handshake("agent", time.Second, base.ErrTimeout)
	m.Planned(base.AllReduce, "AllReduceRingExecutor", 7)
	m.TagCache(2)

	body := scrape(t, m)
	assert.Contains(t, body, `hccl_rendezvous_bytes_total{direction="egress"} 3`)
	assert.Contains(t, body, `hccl_rendezvous_bytes_total{direction="ingress"} 2`)
	assert.Contains(t, body, `hccl_rendezvous_connections_total{result="rejected"} 1`)
	assert.Contains(t, body, `hccl_rendezvous_handshake_seconds_count{result="timeout",role="agent"} 1`)
	assert.Contains(t, body, `hccl_planner_plans_total{executor="AllReduceRingExecutor",op="AllReduce"} 1`)
	assert.Contains(t, body, `hccl_planner_tasks_total{op="AllReduce"} 7`)
	assert.Contains(t, body, `hccl_communicator_tag_cache_entries 2`)
}
