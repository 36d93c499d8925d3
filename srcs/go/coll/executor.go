package coll

import (
	"sort"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

// TransportRequest is what one level of a plan asks of its sub-communicator.
type TransportRequest struct {
	Level   int
	Mem     MemType
	Pattern base.Pattern
	Ranks   []uint32
	Slices  []base.Slice
}

// executor is driven through ParseParam, CalcStreamNum, CalcCommInfo and
// KernelRun, in that order, once per plan.
type executor interface {
	Name() string
	ParseParam(p *OpParam) error
	CalcStreamNum() int
	CalcCommInfo() []TransportRequest
	KernelRun(b *builder) error
	core() *executorBase
}

type constructor func(e *executorBase) executor

var registry = make(map[string]constructor)

func register(name string, c constructor) {
	if _, ok := registry[name]; ok {
		panic("duplicated executor " + name)
	}
	registry[name] = c
}

// Executors lists the registered executor names.
func Executors() []string {
	var names []string
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type stageKind int

const (
	stageReduceScatter stageKind = iota
	stageAllGather
	stageAllReduce
	stageScatter
	stageGather
)

func (k stageKind) reduces() bool {
	return k == stageReduceScatter || k == stageAllReduce
}

// executorBase carries what every executor derives from the request and
// the topology.
type executorBase struct {
	name   string
	env    *Env
	h      *hierarchy
	level0 base.AlgLevel0
	param  *OpParam

	alg       base.AlgType
	level1    Algorithm
	level2    Algorithm
	size      uint64
	stageSize uint64
	scratch   bool
	huge      bool

	streams    int
	rings      int
	mesh       []int
	rdma       int
	transports []TransportRequest

	loops       int
	scratchSize uint64
}

func (e *executorBase) Name() string        { return e.name }
func (e *executorBase) core() *executorBase { return e }

func (e *executorBase) rankSize() uint32 { return uint32(len(e.h.coord)) }

// parse classifies the request: total size, huge data, scratch need and
// the level-1/level-2 algorithms.
func (e *executorBase) parse(p *OpParam, size uint64, reduce bool) error {
	e.param = p
	e.size = size
	prof := e.env.Profile
	rt := e.env.runtime()
	multi := e.h.size[1]*e.h.size[2] > 1
	if reduce {
		e.scratch = !prof.SupportsSDMAReduce(p.DataType, p.ReduceOp) ||
			(multi && !prof.SupportsRDMAReduce(p.DataType, p.ReduceOp)) ||
			rt.Deterministic
	}
	e.huge = prof.IsHugeData(size, uint64(max(e.env.Attr.DeviceNumPerAggregation, 1)))
	e.stageSize = size / uint64(e.h.size[0])
	e.alg.Level0 = e.level0
	e.alg.Level1 = SelectLevel1(rt.Algo, prof, e.stageSize, e.h.size[1])
	e.alg.Level2 = SelectLevel2(rt.Algo, e.h.size[2])
	var err error
	if e.h.size[1] > 1 {
		if e.level1, err = level1Algorithm(e.alg.Level1, p.Op, e.stageSize, prof, e.h.size[2] > 1, rt.Deterministic); err != nil {
			return err
		}
	}
	if e.h.size[2] > 1 {
		if e.level2, err = level2Algorithm(e.alg.Level2); err != nil {
			return err
		}
	}
	log.Debugf("%s: %s size=%d huge=%v scratch=%v alg=%s", e.name, p, size, e.huge, e.scratch, e.alg)
	return nil
}

// CalcStreamNum: 8P ring runs four rings, double ring two, mesh one stream
// per peer, everything else one. The RDMA lane adds a stream when it runs
// concurrently with SDMA.
func (e *executorBase) CalcStreamNum() int {
	n0 := e.h.size[0]
	e.rings = 1
	switch {
	case e.level0.IsMesh() && n0 > 2:
		e.streams = n0 - 1
	case e.level0.IsMesh():
		e.streams = 1
	default:
		e.rings = len(plan.RingOrders(e.level0, n0))
		e.streams = e.rings
	}
	if e.level0.IsMesh() {
		e.mesh = make([]int, e.streams)
		for i := range e.mesh {
			e.mesh[i] = i
		}
	}
	if e.env.runtime().SdmaRdmaConcurrent && e.h.size[1] > 1 {
		e.rdma = e.streams
		e.streams++
	}
	return e.streams
}

func (e *executorBase) pattern(l int) base.Pattern {
	switch {
	case l == 0 && e.level0.IsMesh():
		return base.PatternMesh
	case l == 0:
		return base.PatternRing
	case l == 1 && e.level1 != nil:
		return e.level1.Pattern()
	case l == 2 && e.level2 != nil:
		return e.level2.Pattern()
	}
	return base.PatternRing
}

// commInfo requests one transport per level with more than one member.
func (e *executorBase) commInfo(mem MemType, reduce bool) []TransportRequest {
	e.transports = nil
	for l := 0; l < 3; l++ {
		if e.h.size[l] < 2 {
			continue
		}
		m := mem
		if reduce && e.scratch {
			m = MemScratch
		}
		e.transports = append(e.transports, TransportRequest{
			Level:   l,
			Mem:     m,
			Pattern: e.pattern(l),
			Ranks:   e.h.group(l),
		})
	}
	return e.transports
}

func (e *executorBase) recordSlices(l int, super [][]base.Slice) {
	for i := range e.transports {
		if t := &e.transports[i]; t.Level == l && t.Slices == nil {
			for _, ss := range super {
				t.Slices = append(t.Slices, ss...)
			}
		}
	}
}

func stepsOf(a Algorithm, kind stageKind, n, me, root int) []Step {
	switch kind {
	case stageReduceScatter:
		return a.ReduceScatter(n, me)
	case stageAllGather:
		return a.AllGather(n, me)
	case stageAllReduce:
		if os, ok := a.(OneShot); ok {
			return os.AllReduce(n, me)
		}
		return append(a.ReduceScatter(n, me), a.AllGather(n, me)...)
	case stageScatter:
		return starSteps(n, me, root, true)
	case stageGather:
		return starSteps(n, me, root, false)
	}
	return nil
}

// starSteps moves block m between the root and member m, out from the root
// when scatter is set, in otherwise.
func starSteps(n, me, root int, scatter bool) []Step {
	if n < 2 {
		return nil
	}
	var st Step
	if me == root {
		for m := 0; m < n; m++ {
			if m == me {
				continue
			}
			if scatter {
				st.Sends = append(st.Sends, Xfer{Peer: m, Blocks: []int{m}})
			} else {
				st.Recvs = append(st.Recvs, Xfer{Peer: m, Blocks: []int{m}})
			}
		}
	} else if scatter {
		st.Recvs = []Xfer{{Peer: root, Blocks: []int{me}}}
	} else {
		st.Sends = []Xfer{{Peer: root, Blocks: []int{me}}}
	}
	return []Step{st}
}

// runLevel runs one stage over my level-l group. super[m] lists the slices
// of member m's block. root is a member index for scatter and gather.
func (e *executorBase) runLevel(b *builder, l int, kind stageKind, super [][]base.Slice, mem MemType, root int) {
	n := e.h.size[l]
	if n < 2 {
		return
	}
	e.recordSlices(l, super)
	peers := e.h.group(l)
	me := e.h.me[l]
	switch l {
	case 0:
		e.runLevel0(b, kind, super, mem, root, peers)
	case 1:
		if e.rdma == 0 || kind == stageScatter || kind == stageGather {
			b.emit(stage{level: 1, lane: LaneRDMA, pattern: e.level1.Pattern(), peers: peers, blocks: super, mem: mem},
				stepsOf(e.level1, kind, n, me, root))
			return
		}
		sdma, rdma := splitSuper(super, BestRatio(e.level0, e.env.Profile), e.env.Profile)
		var hasRDMA bool
		for _, ss := range rdma {
			hasRDMA = hasRDMA || len(ss) > 0
		}
		if hasRDMA {
			b.fork([]int{e.rdma})
		}
		steps := stepsOf(e.level1, kind, n, me, root)
		b.emit(stage{level: 1, lane: LaneSDMA, pattern: e.level1.Pattern(), peers: peers, blocks: sdma, mem: mem}, steps)
		if hasRDMA {
			b.emit(stage{level: 1, stream: e.rdma, lane: LaneRDMA, pattern: e.level1.Pattern(), peers: peers, blocks: rdma, mem: mem}, steps)
			b.join([]int{e.rdma})
		}
	case 2:
		b.emit(stage{level: 2, lane: LaneRDMA, pattern: e.level2.Pattern(), peers: peers, blocks: super, mem: mem},
			stepsOf(e.level2, kind, n, me, root))
	}
}

func (e *executorBase) runLevel0(b *builder, kind stageKind, super [][]base.Slice, mem MemType, root int, peers []uint32) {
	n, me := e.h.size[0], e.h.me[0]
	if kind == stageScatter || kind == stageGather {
		b.emit(stage{level: 0, lane: LaneSDMA, pattern: base.PatternRing, peers: peers, blocks: super, mem: mem},
			stepsOf(Ring{}, kind, n, me, root))
		return
	}
	if e.level0.IsMesh() {
		st := stage{level: 0, lane: LaneSDMA, pattern: base.PatternMesh, peers: peers, blocks: super, mem: mem}
		steps := stepsOf(Mesh{}, kind, n, me, root)
		if len(e.mesh) < 2 || (kind.reduces() && b.scratch) {
			b.emit(st, steps)
			return
		}
		b.emitParallel(st, steps, e.mesh)
		return
	}
	orders := plan.RingOrders(e.level0, n)
	var aux []int
	for r := 1; r < len(orders); r++ {
		aux = append(aux, r)
	}
	b.fork(aux)
	for r, order := range orders {
		pos := make([]int, n)
		for p, m := range order {
			pos[m] = p
		}
		st := stage{
			level:   0,
			stream:  r,
			lane:    LaneSDMA,
			pattern: base.PatternRing,
			mem:     mem,
			peers:   make([]uint32, n),
			blocks:  make([][]base.Slice, n),
		}
		for p, m := range order {
			st.peers[p] = peers[m]
			st.blocks[p] = splitParts(super[m], b.unit, len(orders), r)
		}
		b.emit(st, stepsOf(Ring{}, kind, n, pos[me], pos[root]))
	}
	b.join(aux)
}

// reduceScatterLevels runs reduce-scatter on levels from..to, lowest
// first. Afterwards I hold the blocks whose coordinates on those levels
// equal mine.
func (e *executorBase) reduceScatterLevels(b *builder, blocks []dataBlock, mem MemType, from, to int) {
	for l := from; l <= to; l++ {
		e.runLevel(b, l, stageReduceScatter, superBlocks(e.h, blocks, l), mem, 0)
	}
}

// allGatherLevels mirrors reduceScatterLevels, highest level first.
func (e *executorBase) allGatherLevels(b *builder, blocks []dataBlock, mem MemType, from, to int) {
	for l := to; l >= from; l-- {
		e.runLevel(b, l, stageAllGather, superBlocks(e.h, blocks, l), mem, 0)
	}
}

// held returns the slices of the blocks whose coordinates match mine on
// every level up to upTo.
func (e *executorBase) held(blocks []dataBlock, upTo int) []base.Slice {
	var out []base.Slice
	for _, b := range blocks {
		ok := true
		for l := 0; l <= upTo; l++ {
			if b.coord[l] != e.h.me[l] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, b.slices...)
		}
	}
	return out
}

// gridCoords lists the coordinates of the whole grid, level 0 fastest.
// Level-0 positions not in active are left out.
func (e *executorBase) gridCoords(active []int) [][3]int {
	if active == nil {
		for m := 0; m < e.h.size[0]; m++ {
			active = append(active, m)
		}
	}
	var cs [][3]int
	for c2 := 0; c2 < e.h.size[2]; c2++ {
		for c1 := 0; c1 < e.h.size[1]; c1++ {
			for _, c0 := range active {
				cs = append(cs, [3]int{c0, c1, c2})
			}
		}
	}
	return cs
}

// rankBlocks lays out one block of blockSize bytes per rank, block g at
// offset+g*stride.
func (e *executorBase) rankBlocks(offset, stride, blockSize uint64) []dataBlock {
	blocks := make([]dataBlock, 0, len(e.h.coord))
	for g := uint32(0); g < e.rankSize(); g++ {
		blocks = append(blocks, dataBlock{
			coord:  e.h.coord[g],
			slices: nonEmpty(base.Slice{Offset: offset + uint64(g)*stride, Size: blockSize}),
		})
	}
	return blocks
}

// chunkCount is the per-rank element count one loop stages through the CCL
// buffer when ranks blocks of the same length share it.
func (e *executorBase) chunkCount(unit uint64, ranks uint64) (uint64, error) {
	n := e.env.CCLBufferSize / (unit * ranks)
	if n == 0 {
		return 0, errors.Wrapf(base.ErrMemory, "ccl buffer of %d bytes cannot hold %d ranks of %d bytes", e.env.CCLBufferSize, ranks, unit)
	}
	return n, nil
}
