package comm

import (
	"context"

	"github.com/lsds/hcomm/srcs/go/coll"
	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// boundEngine resolves the buffer of every task before it reaches the
// engine, and rejects tasks that reach outside their buffers.
type boundEngine struct {
	inner coll.Engine
	mems  map[coll.MemType]hal.DeviceMem
}

func (e *boundEngine) Launch(ctx context.Context, stream int, t coll.Task) error {
	if t.Buf.IsNil() {
		t.Buf = e.mems[t.Mem]
	}
	if err := within(t.Buf, t.Slices, t.Shift, t.Mem); err != nil {
		return err
	}
	if t.Kind == coll.TaskCopy || t.Kind == coll.TaskReduce {
		if err := within(e.mems[t.SrcMem], t.Slices, 0, t.SrcMem); err != nil {
			return err
		}
	}
	return e.inner.Launch(ctx, stream, t)
}

func within(m hal.DeviceMem, slices []base.Slice, shift int64, what coll.MemType) error {
	if base.TotalSize(slices) == 0 {
		return nil
	}
	if m.IsNil() {
		return errors.Wrapf(base.ErrPtr, "%s is nil", what)
	}
	for _, s := range slices {
		begin := int64(s.Offset) + shift
		if begin < 0 || uint64(begin)+s.Size > m.Size {
			return errors.Wrapf(base.ErrMemory, "%v shifted by %d is outside %s %s", s, shift, what, m)
		}
	}
	return nil
}
