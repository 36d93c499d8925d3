package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
)

// builder accumulates the per-stream task lists of one plan.
type builder struct {
	streams  [][]Task
	notifies int
	dtype    base.DataType
	op       base.ReduceOp
	retry    config.RetryPolicy
	unit     int
	// scratch routes received data that is reduced through the scratch
	// buffer followed by a local reduce.
	scratch bool
}

func newBuilder(streams int, p *OpParam, retry config.RetryPolicy, scratch bool) *builder {
	return &builder{
		streams: make([][]Task, streams),
		dtype:   p.DataType,
		op:      p.ReduceOp,
		retry:   retry,
		unit:    p.DataType.Size(),
		scratch: scratch,
	}
}

func (b *builder) retryAt(level int) bool {
	switch level {
	case 0:
		return b.retry.Server
	case 1:
		return b.retry.Inter
	}
	return b.retry.SuperPod
}

func (b *builder) add(stream int, t Task) {
	t.DataType = b.dtype
	t.Op = b.op
	b.push(stream, t)
}

// push appends a task whose data type is already set.
func (b *builder) push(stream int, t Task) {
	t.Retry = b.retryAt(t.Level)
	b.streams[stream] = append(b.streams[stream], t)
}

func (b *builder) notify() int {
	n := b.notifies
	b.notifies++
	return n
}

// fork holds each auxiliary stream until the main stream gets here.
func (b *builder) fork(aux []int) {
	for _, s := range aux {
		n := b.notify()
		b.add(0, Task{Kind: TaskSignal, Notify: n})
		b.add(s, Task{Kind: TaskWait, Notify: n})
	}
}

// join holds the main stream until every auxiliary stream gets here.
func (b *builder) join(aux []int) {
	for _, s := range aux {
		n := b.notify()
		b.add(s, Task{Kind: TaskSignal, Notify: n})
		b.add(0, Task{Kind: TaskWait, Notify: n})
	}
}

func (b *builder) copy(level int, src, dst MemType, slices []base.Slice, shift int64) {
	if base.TotalSize(slices) == 0 {
		return
	}
	b.add(0, Task{Kind: TaskCopy, Level: level, SrcMem: src, Mem: dst, Slices: slices, Shift: shift})
}

func (b *builder) taskCount() int {
	var n int
	for _, ts := range b.streams {
		n += len(ts)
	}
	return n
}

// stage is one schedule over a sub-communicator.
type stage struct {
	level   int
	stream  int
	lane    Lane
	pattern base.Pattern
	peers   []uint32
	blocks  [][]base.Slice
	mem     MemType
}

func (st stage) slices(blocks []int) []base.Slice {
	var out []base.Slice
	for _, i := range blocks {
		out = append(out, st.blocks[i]...)
	}
	return out
}

func (b *builder) emitStep(st stage, stream int, s Step) {
	for _, x := range s.Sends {
		slices := st.slices(x.Blocks)
		if base.TotalSize(slices) == 0 {
			continue
		}
		b.add(stream, Task{Kind: TaskSend, Level: st.level, Lane: st.lane, Pattern: st.pattern, Peer: st.peers[x.Peer], Mem: st.mem, Slices: slices})
	}
	for _, x := range s.Recvs {
		slices := st.slices(x.Blocks)
		if base.TotalSize(slices) == 0 {
			continue
		}
		t := Task{Kind: TaskRecv, Level: st.level, Lane: st.lane, Pattern: st.pattern, Peer: st.peers[x.Peer], Mem: st.mem, Slices: slices, Reduce: s.Reduce}
		if s.Reduce && b.scratch {
			t.Mem, t.Reduce = MemScratch, false
			b.add(stream, t)
			b.add(stream, Task{Kind: TaskReduce, Level: st.level, SrcMem: MemScratch, Mem: st.mem, Slices: slices})
			continue
		}
		b.add(stream, t)
	}
}

func (b *builder) emit(st stage, steps []Step) {
	for _, s := range steps {
		b.emitStep(st, st.stream, s)
	}
}

// emitParallel spreads the steps of a schedule over streams, step k on
// streams[k % len(streams)], bracketed by fork and join.
func (b *builder) emitParallel(st stage, steps []Step, streams []int) {
	aux := streams[1:]
	b.fork(aux)
	for k, s := range steps {
		b.emitStep(st, streams[k%len(streams)], s)
	}
	b.join(aux)
}

func (b *builder) build(p *Plan) {
	p.Streams = b.streams
	p.Notifies = b.notifies
}
