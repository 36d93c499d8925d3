package rendezvous

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/lsds/hcomm/srcs/go/utils"
	"github.com/pkg/errors"
)

const (
	DefaultWorkerCapacity = 256
	MaxDispatchWorkers    = 4

	sendQuantum = 5 * time.Millisecond
)

// SendState is the progress of one reply towards its agent.
type SendState struct {
	Conn net.Conn
	Data []byte
	Sent int
	Err  error
}

func (s *SendState) done() bool {
	return s.Err != nil || s.Sent == len(s.Data)
}

// DispatchWorkers returns ceil(n / capacity) clamped to [1, MaxDispatchWorkers].
func DispatchWorkers(n, capacity int) int {
	if capacity <= 0 {
		capacity = DefaultWorkerCapacity
	}
	w := (n + capacity - 1) / capacity
	if w < 1 {
		w = 1
	}
	if w > MaxDispatchWorkers {
		w = MaxDispatchWorkers
	}
	return w
}

// dispatcher fans replies out to all agents. Each pass collects the
// unfinished connections, marks the queue ready and wakes every worker; a
// worker gives a connection one bounded write and leaves the rest for the
// next pass.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	closed bool
	queue  []string
	busy   int

	stateMu sync.Mutex
	states  map[string]*SendState

	workers int
	wg      sync.WaitGroup
}

func newDispatcher(workers int) *dispatcher {
	d := &dispatcher{
		states:  make(map[string]*SendState),
		workers: workers,
	}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for !d.closed && !(d.ready && len(d.queue) > 0) {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		id := d.queue[0]
		d.queue = d.queue[1:]
		d.busy++
		d.mu.Unlock()

		d.send(id)

		d.mu.Lock()
		d.busy--
		if len(d.queue) == 0 && d.busy == 0 {
			d.ready = false
			d.cond.Broadcast()
		}
		d.mu.Unlock()
	}
}

func (d *dispatcher) send(id string) {
	d.stateMu.Lock()
	st := d.states[id]
	d.stateMu.Unlock()

	var n int
	err := st.Conn.SetWriteDeadline(time.Now().Add(sendQuantum))
	if err == nil {
		n, err = st.Conn.Write(st.Data[st.Sent:])
	}
	monitor.GetMonitor().Egress(int64(n))

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	st.Sent += n
	if err != nil && !isTimeout(err) {
		st.Err = errors.Wrapf(base.ErrTCPTransfer, "send to agent %s: %v", id, err)
	}
}

func (d *dispatcher) unfinished() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	var ids []string
	for id, st := range d.states {
		if !st.done() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends data[id] on conns[id] for every id, or fails once the
// deadline passes.
func (d *dispatcher) Broadcast(conns map[string]net.Conn, data map[string][]byte, deadline time.Time) error {
	d.stateMu.Lock()
	for id, conn := range conns {
		d.states[id] = &SendState{Conn: conn, Data: data[id]}
	}
	d.stateMu.Unlock()

	for passes := 0; ; passes++ {
		ids := d.unfinished()
		if len(ids) == 0 {
			log.Debugf("broadcast to %d agents done after %d passes by %d workers", len(conns), passes, d.workers)
			break
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(base.ErrTimeout, "broadcast: %d agents not served: %v", len(ids), ids)
		}
		d.mu.Lock()
		d.queue = ids
		d.ready = true
		d.cond.Broadcast()
		for d.ready {
			d.cond.Wait()
		}
		d.mu.Unlock()
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	var errs []error
	for _, st := range d.states {
		errs = append(errs, st.Err)
	}
	return utils.MergeErrors(errs, "broadcast")
}

// State returns a copy of the send progress of one agent.
func (d *dispatcher) State(id string) (SendState, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	st, ok := d.states[id]
	if !ok {
		return SendState{}, false
	}
	return *st, true
}

func (d *dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}
