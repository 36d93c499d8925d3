package coll

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/topo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// grid describes a symmetric test cluster.
type testCluster struct {
	pods, serversPerPod, devices int
	dev                          base.DevType
	singleMesh, diffModule       bool
	nics                         []int32
}

func (c testCluster) size() int { return max(c.pods, 1) * c.serversPerPod * c.devices }

func (c testCluster) topology(t *testing.T) *plan.RankTopology {
	tp := &plan.RankTopology{Version: "1.0", NicDeploy: base.NicDeployDevice}
	servers := max(c.pods, 1) * c.serversPerPod
	for s := 0; s < servers; s++ {
		for d := 0; d < c.devices; d++ {
			r := plan.NewRankEntry()
			r.RankID = uint32(s*c.devices + d)
			r.ServerID = fmt.Sprintf("server-%d", s)
			r.DevicePhyID = int32(d)
			r.DeviceIPs = []net.IP{net.IPv4(10, 0, byte(s), byte(d))}
			r.HostIP = net.IPv4(192, 168, 0, byte(s))
			if c.pods > 0 {
				r.SuperPodID = fmt.Sprintf("pod-%d", s/c.serversPerPod)
				r.SuperDeviceID = uint32(s%c.serversPerPod*c.devices + d)
			}
			require.NoError(t, tp.AddRank(r))
		}
		require.NoError(t, tp.AddServer(plan.ServerEntry{ServerID: fmt.Sprintf("server-%d", s)}))
	}
	require.NoError(t, tp.AssignIndices())
	require.NoError(t, tp.Recount())
	tp.Freeze()
	return tp
}

func (c testCluster) attr(tp *plan.RankTopology, rank uint32) *topo.Attr {
	r, _ := tp.Ranks.Rank(rank)
	a := &topo.Attr{
		DevType:                 c.dev,
		NicDeploy:               tp.NicDeploy,
		UserRank:                rank,
		RankSize:                tp.RankNum,
		DevicePhyID:             r.DevicePhyID,
		ServerNum:               tp.ServerNum,
		SuperPodNum:             tp.SuperPodNum,
		DeviceNumPerServer:      uint32(c.devices),
		DeviceNumPerAggregation: uint32(c.devices),
		ModuleNum:               1,
		IsDiffDeviceModule:      c.diffModule,
		IsSingleMesh:            c.singleMesh,
		IsSamePlane:             true,
		Level0:                  tp.Level0Ranks(rank),
		Level1:                  tp.Level1Ranks(rank),
		Level2:                  tp.Level2Ranks(rank),
		NicList:                 c.nics,
	}
	if a.NicList == nil {
		for d := 0; d < c.devices; d++ {
			a.NicList = append(a.NicList, int32(d))
		}
	}
	return a
}

type testSetup struct {
	cluster testCluster
	profile *config.HardwareProfile
	runtime *config.Runtime
	ccl     uint64
}

func (s testSetup) planner(t *testing.T, tp *plan.RankTopology, rank uint32) *Planner {
	prof := config.ProfileOf(s.cluster.dev)
	if s.profile != nil {
		prof = *s.profile
	}
	p, err := NewPlanner(Env{
		Topo:          tp,
		Attr:          s.cluster.attr(tp, rank),
		Profile:       prof,
		Runtime:       s.runtime,
		CCLBufferSize: s.ccl,
	})
	require.NoError(t, err)
	return p
}

type simMsg struct {
	slices []base.Slice
	data   []float32
}

// simNet carries the messages of all ranks, one FIFO per sender, receiver
// and stream.
type simNet struct {
	mu    sync.Mutex
	chans map[[3]int]chan simMsg
}

func newSimNet() *simNet { return &simNet{chans: make(map[[3]int]chan simMsg)} }

func (n *simNet) ch(src, dst uint32, stream int) chan simMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := [3]int{int(src), int(dst), stream}
	c, ok := n.chans[k]
	if !ok {
		c = make(chan simMsg, 4096)
		n.chans[k] = c
	}
	return c
}

// simRank is an Engine over float32 host buffers.
type simRank struct {
	net  *simNet
	rank uint32
	op   base.ReduceOp
	mu   sync.Mutex
	mems map[MemType][]float32
}

func newSimRank(n *simNet, rank uint32, op base.ReduceOp, sizes map[MemType]uint64) *simRank {
	r := &simRank{net: n, rank: rank, op: op, mems: make(map[MemType][]float32)}
	for m, size := range sizes {
		r.mems[m] = make([]float32, size/4)
	}
	return r
}

func (r *simRank) view(m MemType, s base.Slice, shift int64) ([]float32, error) {
	buf := r.mems[m]
	begin := int64(s.Offset) + shift
	if begin < 0 || begin%4 != 0 || s.Size%4 != 0 || uint64(begin)+s.Size > uint64(len(buf))*4 {
		return nil, errors.Errorf("rank %d: %s%v shifted by %d is out of %d bytes", r.rank, m, s, shift, len(buf)*4)
	}
	return buf[begin/4 : (uint64(begin)+s.Size)/4], nil
}

func (r *simRank) apply(dst, src []float32, reduce bool) {
	for i, v := range src {
		switch {
		case !reduce:
			dst[i] = v
		case r.op == base.MAX:
			dst[i] = max(dst[i], v)
		default:
			dst[i] += v
		}
	}
}

func (r *simRank) Launch(ctx context.Context, stream int, t Task) error {
	switch t.Kind {
	case TaskCopy, TaskReduce:
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, s := range t.Slices {
			src, err := r.view(t.SrcMem, s, 0)
			if err != nil {
				return err
			}
			dst, err := r.view(t.Mem, s, t.Shift)
			if err != nil {
				return err
			}
			r.apply(dst, src, t.Kind == TaskReduce)
		}
	case TaskSend:
		r.mu.Lock()
		msg := simMsg{slices: t.Slices}
		for _, s := range t.Slices {
			v, err := r.view(t.Mem, s, 0)
			if err != nil {
				r.mu.Unlock()
				return err
			}
			msg.data = append(msg.data, v...)
		}
		r.mu.Unlock()
		r.net.ch(r.rank, t.Peer, stream) <- msg
	case TaskRecv:
		var msg simMsg
		select {
		case msg = <-r.net.ch(t.Peer, r.rank, stream):
		case <-ctx.Done():
			return errors.Errorf("rank %d stream %d: %s never arrives", r.rank, stream, t)
		}
		// offsets differ between the two sides of an all-to-all
		if base.TotalSize(msg.slices) != base.TotalSize(t.Slices) {
			return errors.Errorf("rank %d stream %d: %s got %v", r.rank, stream, t, msg.slices)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		var off int
		for _, s := range t.Slices {
			dst, err := r.view(t.Mem, s, 0)
			if err != nil {
				return err
			}
			r.apply(dst, msg.data[off:off+len(dst)], t.Reduce)
			off += len(dst)
		}
	default:
		return errors.Errorf("unexpected %s", t)
	}
	return nil
}

// runCluster plans param on every rank and replays all plans together.
// fill sets up the user input of a rank before the run.
func runCluster(t *testing.T, s testSetup, param func(rank uint32) *OpParam, fill func(rank uint32, in []float32)) ([]*simRank, []*Plan) {
	tp := s.cluster.topology(t)
	n := s.cluster.size()
	sn := newSimNet()
	ranks := make([]*simRank, n)
	plans := make([]*Plan, n)
	for g := 0; g < n; g++ {
		p := param(uint32(g))
		pl, err := s.planner(t, tp, uint32(g)).Plan(p)
		require.NoError(t, err)
		plans[g] = pl
		ccl := s.ccl
		ranks[g] = newSimRank(sn, uint32(g), p.ReduceOp, map[MemType]uint64{
			MemUserInput:  p.Input.Size,
			MemUserOutput: p.Output.Size,
			MemCCLInput:   ccl,
			MemCCLOutput:  ccl,
			MemScratch:    max(pl.Scratch, ccl),
		})
		fill(uint32(g), ranks[g].mems[MemUserInput])
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for i := range ranks {
		i := i
		g.Go(func() error { return RunStreams(ctx, ranks[i], plans[i]) })
	}
	require.NoError(t, g.Wait())
	return ranks, plans
}

func mem(elems uint64) hal.DeviceMem {
	return hal.DeviceMem{Addr: 0x1000, Size: elems * 4}
}

func value(rank uint32, i int) float32 { return float32(rank+1) * float32(i%7+1) }
