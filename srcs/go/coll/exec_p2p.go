package coll

import (
	"sort"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

func init() {
	register("SendExecutor", func(e *executorBase) executor { return &sendRecvExecutor{executorBase: e, send: true} })
	register("ReceiveExecutor", func(e *executorBase) executor { return &sendRecvExecutor{executorBase: e} })
	register("AllToAllPairwiseExecutor", func(e *executorBase) executor { return &allToAllExecutor{executorBase: e} })
	register("BatchSendRecvExecutor", func(e *executorBase) executor { return &batchSendRecvExecutor{executorBase: e} })
}

func (e *executorBase) checkPeer(peer uint32) error {
	if peer >= e.rankSize() {
		return errors.Wrapf(base.ErrPara, "peer %d out of %d ranks", peer, e.rankSize())
	}
	if peer == e.h.rank {
		return errors.Wrapf(base.ErrPara, "peer %d is the local rank", peer)
	}
	return nil
}

func laneOf(level int) Lane {
	if level == 0 {
		return LaneSDMA
	}
	return LaneRDMA
}

// chunks cuts [0, size) into pieces of at most limit bytes, whole elements.
func chunks(size, limit, unit uint64) []base.Slice {
	limit = max(base.RoundDown(limit, unit), unit)
	var out []base.Slice
	for off := uint64(0); off < size; off += limit {
		out = append(out, base.Slice{Offset: off, Size: min(limit, size-off)})
	}
	return out
}

func (e *executorBase) p2pStreams(n int) int {
	e.streams = n
	return n
}

type sendRecvExecutor struct {
	*executorBase
	send bool
}

func (e *sendRecvExecutor) ParseParam(p *OpParam) error {
	if err := e.checkPeer(p.Peer); err != nil {
		return err
	}
	if err := checkDataType(p.DataType); err != nil {
		return err
	}
	if err := checkCount(p.Count, e.env.Profile); err != nil {
		return err
	}
	buf, what := p.Output, "output"
	if e.send {
		buf, what = p.Input, "input"
	}
	if err := checkMem(buf, p.Size(), what); err != nil {
		return err
	}
	e.param, e.size = p, p.Size()
	return nil
}

func (e *sendRecvExecutor) CalcStreamNum() int { return e.p2pStreams(1) }

func (e *sendRecvExecutor) CalcCommInfo() []TransportRequest {
	mem := MemUserOutput
	if e.send {
		mem = MemUserInput
	}
	e.transports = []TransportRequest{{
		Level:   e.h.levelOf(e.param.Peer),
		Mem:     mem,
		Pattern: base.PatternPairwise,
		Ranks:   []uint32{e.h.rank, e.param.Peer},
	}}
	return e.transports
}

// KernelRun ships the buffer in pieces no larger than the RDMA limit.
func (e *sendRecvExecutor) KernelRun(b *builder) error {
	p := e.param
	level := e.h.levelOf(p.Peer)
	for _, s := range chunks(p.Size(), e.env.Profile.RDMASendMaxSize, p.unit()) {
		t := Task{Kind: TaskRecv, Level: level, Lane: laneOf(level), Pattern: base.PatternPairwise, Peer: p.Peer, Mem: MemUserOutput, Slices: []base.Slice{s}}
		if e.send {
			t.Kind, t.Mem = TaskSend, MemUserInput
		}
		b.add(0, t)
		e.loops++
	}
	return nil
}

type allToAllExecutor struct {
	*executorBase
	sendCounts, sendDispls []uint64
	recvCounts, recvDispls []uint64
}

func prefix(counts []uint64) []uint64 {
	displs := make([]uint64, len(counts))
	var acc uint64
	for i, c := range counts {
		displs[i] = acc
		acc += c
	}
	return displs
}

func checkLen(vs []uint64, n int, what string) error {
	if len(vs) != n {
		return errors.Wrapf(base.ErrPara, "%s has %d entries, want %d", what, len(vs), n)
	}
	return nil
}

// extent is the element count a buffer must hold for counts at displs.
func extent(counts, displs []uint64) uint64 {
	var n uint64
	for i, c := range counts {
		if c > 0 {
			n = max(n, displs[i]+c)
		}
	}
	return n
}

func (e *allToAllExecutor) ParseParam(p *OpParam) error {
	if err := checkDataType(p.DataType); err != nil {
		return err
	}
	n := int(e.rankSize())
	me := int(e.h.rank)
	switch p.Op {
	case base.AllToAll:
		if err := checkCount(p.Count, e.env.Profile); err != nil {
			return err
		}
		e.sendCounts = make([]uint64, n)
		for i := range e.sendCounts {
			e.sendCounts[i] = p.Count
		}
		e.recvCounts = e.sendCounts
		e.sendDispls = prefix(e.sendCounts)
		e.recvDispls = e.sendDispls
	case base.AllToAllV:
		for _, c := range []struct {
			vs   []uint64
			what string
		}{{p.SendCounts, "send counts"}, {p.SendDispls, "send displacements"}, {p.RecvCounts, "recv counts"}, {p.RecvDispls, "recv displacements"}} {
			if err := checkLen(c.vs, n, c.what); err != nil {
				return err
			}
		}
		e.sendCounts, e.sendDispls = p.SendCounts, p.SendDispls
		e.recvCounts, e.recvDispls = p.RecvCounts, p.RecvDispls
	case base.AllToAllVC:
		if err := checkLen(p.SendCountMatrix, n*n, "send count matrix"); err != nil {
			return err
		}
		e.sendCounts = make([]uint64, n)
		e.recvCounts = make([]uint64, n)
		for i := 0; i < n; i++ {
			e.sendCounts[i] = p.SendCountMatrix[me*n+i]
			e.recvCounts[i] = p.SendCountMatrix[i*n+me]
		}
		e.sendDispls = prefix(e.sendCounts)
		e.recvDispls = prefix(e.recvCounts)
	default:
		return errors.Wrapf(base.ErrNotSupport, "%s is not an all-to-all", p.Op)
	}
	for _, c := range append(append([]uint64(nil), e.sendCounts...), e.recvCounts...) {
		if err := checkCount(c, e.env.Profile); err != nil {
			return err
		}
	}
	unit := p.unit()
	if err := checkMem(p.Input, extent(e.sendCounts, e.sendDispls)*unit, "input"); err != nil {
		return err
	}
	if err := checkMem(p.Output, extent(e.recvCounts, e.recvDispls)*unit, "output"); err != nil {
		return err
	}
	e.param = p
	for _, c := range e.sendCounts {
		e.size += c * unit
	}
	return nil
}

func (e *allToAllExecutor) CalcStreamNum() int { return e.p2pStreams(1) }

func (e *allToAllExecutor) CalcCommInfo() []TransportRequest {
	ranks := make([]uint32, e.rankSize())
	for i := range ranks {
		ranks[i] = uint32(i)
	}
	e.transports = []TransportRequest{{Level: 0, Mem: MemUserOutput, Pattern: base.PatternPairwise, Ranks: ranks}}
	return e.transports
}

// KernelRun pairs rank me with me+s and me-s in step s, after copying its
// own block locally.
func (e *allToAllExecutor) KernelRun(b *builder) error {
	unit := e.param.unit()
	n := int(e.rankSize())
	me := int(e.h.rank)
	if c := e.sendCounts[me]; c > 0 {
		src := e.sendDispls[me] * unit
		b.copy(0, MemUserInput, MemUserOutput, []base.Slice{{Offset: src, Size: c * unit}}, int64(e.recvDispls[me]*unit)-int64(src))
	}
	for s := 1; s < n; s++ {
		to, from := mod(me+s, n), mod(me-s, n)
		if c := e.sendCounts[to]; c > 0 {
			level := e.h.levelOf(uint32(to))
			b.add(0, Task{Kind: TaskSend, Level: level, Lane: laneOf(level), Pattern: base.PatternPairwise, Peer: uint32(to), Mem: MemUserInput,
				Slices: []base.Slice{{Offset: e.sendDispls[to] * unit, Size: c * unit}}})
		}
		if c := e.recvCounts[from]; c > 0 {
			level := e.h.levelOf(uint32(from))
			b.add(0, Task{Kind: TaskRecv, Level: level, Lane: laneOf(level), Pattern: base.PatternPairwise, Peer: uint32(from), Mem: MemUserOutput,
				Slices: []base.Slice{{Offset: e.recvDispls[from] * unit, Size: c * unit}}})
		}
	}
	e.loops = 1
	return nil
}

type batchSendRecvExecutor struct {
	*executorBase
	sends, recvs []SendRecvItem
}

func (e *batchSendRecvExecutor) ParseParam(p *OpParam) error {
	if len(p.Items) == 0 {
		return errors.Wrap(base.ErrPara, "empty send/recv batch")
	}
	type key struct {
		send bool
		peer uint32
	}
	seen := make(map[key]struct{})
	for i, it := range p.Items {
		if err := e.checkPeer(it.Peer); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
		if err := checkDataType(it.DataType); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
		if err := checkCount(it.Count, e.env.Profile); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
		if err := checkMem(it.Buf, it.Count*uint64(it.DataType.Size()), "buffer"); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
		k := key{it.Send, it.Peer}
		if _, ok := seen[k]; ok {
			return errors.Wrapf(base.ErrPara, "item %d: second %s with peer %d", i, direction(it.Send), it.Peer)
		}
		seen[k] = struct{}{}
		if it.Send {
			e.sends = append(e.sends, it)
		} else {
			e.recvs = append(e.recvs, it)
		}
	}
	n := int(e.rankSize())
	me := int(e.h.rank)
	// sends go to the nearest peer after me first, receives come from the
	// nearest peer before me first, so that both sides meet in order
	sort.Slice(e.sends, func(i, j int) bool {
		return mod(int(e.sends[i].Peer)-me, n) < mod(int(e.sends[j].Peer)-me, n)
	})
	sort.Slice(e.recvs, func(i, j int) bool {
		return mod(me-int(e.recvs[i].Peer), n) < mod(me-int(e.recvs[j].Peer), n)
	})
	e.param = p
	return nil
}

func direction(send bool) string {
	if send {
		return "send"
	}
	return "recv"
}

func (e *batchSendRecvExecutor) CalcStreamNum() int { return e.p2pStreams(2) }

func (e *batchSendRecvExecutor) CalcCommInfo() []TransportRequest {
	e.transports = nil
	for _, it := range append(append([]SendRecvItem(nil), e.sends...), e.recvs...) {
		e.transports = append(e.transports, TransportRequest{
			Level:   e.h.levelOf(it.Peer),
			Mem:     MemUserInput,
			Pattern: base.PatternPairwise,
			Ranks:   []uint32{e.h.rank, it.Peer},
		})
	}
	return e.transports
}

// KernelRun posts sends on the main stream and receives on the second one
// so that neither direction blocks the other.
func (e *batchSendRecvExecutor) KernelRun(b *builder) error {
	aux := []int{1}
	b.fork(aux)
	for _, it := range e.sends {
		level := e.h.levelOf(it.Peer)
		b.push(0, Task{Kind: TaskSend, Level: level, Lane: laneOf(level), Pattern: base.PatternPairwise, Peer: it.Peer, Buf: it.Buf,
			DataType: it.DataType, Op: base.ReserveOp, Slices: []base.Slice{{Size: it.Count * uint64(it.DataType.Size())}}})
	}
	for _, it := range e.recvs {
		level := e.h.levelOf(it.Peer)
		b.push(1, Task{Kind: TaskRecv, Level: level, Lane: laneOf(level), Pattern: base.PatternPairwise, Peer: it.Peer, Buf: it.Buf,
			DataType: it.DataType, Op: base.ReserveOp, Slices: []base.Slice{{Size: it.Count * uint64(it.DataType.Size())}}})
	}
	b.join(aux)
	e.loops = 1
	return nil
}
