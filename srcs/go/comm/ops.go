package comm

import (
	"context"

	"github.com/lsds/hcomm/srcs/go/coll"
	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

func (c *Communicator) AllReduce(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType, op base.ReduceOp) error {
	return c.Run(ctx, &coll.OpParam{Op: base.AllReduce, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype, ReduceOp: op})
}

// AllGather gathers count elements of every rank into out, rank order.
func (c *Communicator) AllGather(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType) error {
	return c.Run(ctx, &coll.OpParam{Op: base.AllGather, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype})
}

// ReduceScatter reduces the rank-size blocks of count elements in in and
// leaves block rank in out.
func (c *Communicator) ReduceScatter(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType, op base.ReduceOp) error {
	return c.Run(ctx, &coll.OpParam{Op: base.ReduceScatter, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype, ReduceOp: op})
}

// Broadcast copies buf of root into buf of every rank.
func (c *Communicator) Broadcast(ctx context.Context, tag string, buf hal.DeviceMem, count uint64, dtype base.DataType, root uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Broadcast, Tag: tag, Input: buf, Count: count, DataType: dtype, Root: root})
}

func (c *Communicator) Reduce(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType, op base.ReduceOp, root uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Reduce, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype, ReduceOp: op, Root: root})
}

func (c *Communicator) Scatter(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType, root uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Scatter, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype, Root: root})
}

func (c *Communicator) Gather(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType, root uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Gather, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype, Root: root})
}

func (c *Communicator) Send(ctx context.Context, tag string, buf hal.DeviceMem, count uint64, dtype base.DataType, peer uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Send, Tag: tag, Input: buf, Count: count, DataType: dtype, Peer: peer})
}

func (c *Communicator) Recv(ctx context.Context, tag string, buf hal.DeviceMem, count uint64, dtype base.DataType, peer uint32) error {
	return c.Run(ctx, &coll.OpParam{Op: base.Receive, Tag: tag, Output: buf, Count: count, DataType: dtype, Peer: peer})
}

func (c *Communicator) AllToAll(ctx context.Context, tag string, in, out hal.DeviceMem, count uint64, dtype base.DataType) error {
	return c.Run(ctx, &coll.OpParam{Op: base.AllToAll, Tag: tag, Input: in, Output: out, Count: count, DataType: dtype})
}

func (c *Communicator) AllToAllV(ctx context.Context, tag string, in hal.DeviceMem, sendCounts, sendDispls []uint64, out hal.DeviceMem, recvCounts, recvDispls []uint64, dtype base.DataType) error {
	return c.Run(ctx, &coll.OpParam{Op: base.AllToAllV, Tag: tag, Input: in, Output: out, DataType: dtype,
		SendCounts: sendCounts, SendDispls: sendDispls, RecvCounts: recvCounts, RecvDispls: recvDispls})
}

// AllToAllVC takes the full count matrix, entry i*n+j being what rank i
// sends to rank j.
func (c *Communicator) AllToAllVC(ctx context.Context, tag string, in, out hal.DeviceMem, matrix []uint64, dtype base.DataType) error {
	return c.Run(ctx, &coll.OpParam{Op: base.AllToAllVC, Tag: tag, Input: in, Output: out, DataType: dtype, SendCountMatrix: matrix})
}

func (c *Communicator) BatchSendRecv(ctx context.Context, tag string, items []coll.SendRecvItem) error {
	return c.Run(ctx, &coll.OpParam{Op: base.BatchSendRecv, Tag: tag, Items: items})
}
