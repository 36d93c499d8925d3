package coll

import (
	"context"
	"fmt"
	"sync"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

type TaskKind int

const (
	TaskCopy TaskKind = iota
	TaskSend
	TaskRecv
	TaskReduce // local reduce of scratch into the target buffer
	TaskSignal
	TaskWait
)

var taskKindNames = map[TaskKind]string{
	TaskCopy:   "copy",
	TaskSend:   "send",
	TaskRecv:   "recv",
	TaskReduce: "reduce",
	TaskSignal: "signal",
	TaskWait:   "wait",
}

func (k TaskKind) String() string { return taskKindNames[k] }

// Lane is the hardware path of a transfer.
type Lane int

const (
	LaneSDMA Lane = iota
	LaneRDMA
)

func (l Lane) String() string {
	if l == LaneRDMA {
		return "RDMA"
	}
	return "SDMA"
}

// MemType names the buffer a slice is an offset into.
type MemType int

const (
	MemUserInput MemType = iota
	MemUserOutput
	MemCCLInput
	MemCCLOutput
	MemScratch
)

var memTypeNames = map[MemType]string{
	MemUserInput:  "user-in",
	MemUserOutput: "user-out",
	MemCCLInput:   "ccl-in",
	MemCCLOutput:  "ccl-out",
	MemScratch:    "scratch",
}

func (m MemType) String() string { return memTypeNames[m] }

// Task is one unit of work handed to an Engine.
//
// Send reads Slices of Mem and ships them to Peer. Recv writes them into Mem,
// reducing into the existing content when Reduce is set. Copy and Reduce move
// Slices of SrcMem onto the same offsets of Mem, shifted by Shift bytes in the
// destination. Signal and Wait operate on Notify. A non-nil Buf replaces Mem
// for calls that bring their own buffers.
type Task struct {
	Kind     TaskKind
	Level    int
	Lane     Lane
	Pattern  base.Pattern
	Peer     uint32
	Mem      MemType
	Buf      hal.DeviceMem
	SrcMem   MemType
	Slices   []base.Slice
	Shift    int64
	Reduce   bool
	Op       base.ReduceOp
	DataType base.DataType
	Notify   int
	Retry    bool
}

func (t Task) Size() uint64 { return base.TotalSize(t.Slices) }

func (t Task) String() string {
	switch t.Kind {
	case TaskSignal, TaskWait:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Notify)
	case TaskSend, TaskRecv:
		return fmt.Sprintf("L%d %s %s peer=%d %s %v reduce=%v", t.Level, t.Lane, t.Kind, t.Peer, t.Mem, t.Slices, t.Reduce)
	}
	return fmt.Sprintf("%s %s->%s %v", t.Kind, t.SrcMem, t.Mem, t.Slices)
}

// Engine runs tasks. Launch is called from one goroutine per stream, in
// stream order; Signal and Wait are resolved by RunStreams before reaching
// the engine.
type Engine interface {
	Launch(ctx context.Context, stream int, t Task) error
}

// Recorder is an Engine that keeps what it is given.
type Recorder struct {
	mu      sync.Mutex
	streams map[int][]Task
}

func NewRecorder() *Recorder {
	return &Recorder{streams: make(map[int][]Task)}
}

func (r *Recorder) Launch(ctx context.Context, stream int, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[stream] = append(r.streams[stream], t)
	return nil
}

// Stream returns the tasks launched on one stream.
func (r *Recorder) Stream(i int) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.streams[i]...)
}

// Count returns the number of tasks of a kind over all streams.
func (r *Recorder) Count(kind TaskKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, ts := range r.streams {
		for _, t := range ts {
			if t.Kind == kind {
				n++
			}
		}
	}
	return n
}
