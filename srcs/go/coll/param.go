package coll

import (
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/pkg/errors"
)

// SendRecvItem is one element of a BatchSendRecv call.
type SendRecvItem struct {
	Send     bool
	Peer     uint32
	Buf      hal.DeviceMem
	Count    uint64
	DataType base.DataType
}

// OpParam is one collective request.
type OpParam struct {
	Op       base.CollType
	Tag      string
	Input    hal.DeviceMem
	Output   hal.DeviceMem
	Count    uint64
	DataType base.DataType
	ReduceOp base.ReduceOp
	Root     uint32
	Peer     uint32

	SendCounts []uint64
	SendDispls []uint64
	RecvCounts []uint64
	RecvDispls []uint64
	// SendCountMatrix[i*n+j] is the element count rank i sends to rank j.
	SendCountMatrix []uint64

	Items []SendRecvItem
}

func (p OpParam) String() string {
	return fmt.Sprintf("%s{tag=%s,count=%d,dtype=%s,op=%s,root=%d}", p.Op, p.Tag, p.Count, p.DataType, p.ReduceOp, p.Root)
}

func (p OpParam) unit() uint64 { return uint64(p.DataType.Size()) }

// Size is the byte size of Count elements.
func (p OpParam) Size() uint64 { return p.Count * p.unit() }

func checkMem(m hal.DeviceMem, need uint64, what string) error {
	if need == 0 {
		return nil
	}
	if m.IsNil() {
		return errors.Wrapf(base.ErrPtr, "%s is nil", what)
	}
	if m.Size < need {
		return errors.Wrapf(base.ErrPara, "%s holds %d bytes, need %d", what, m.Size, need)
	}
	return nil
}

func checkDataType(t base.DataType) error {
	if !t.Valid() {
		return errors.Wrapf(base.ErrPara, "invalid data type %d", t)
	}
	return nil
}

func checkCount(count uint64, prof config.HardwareProfile) error {
	if count > prof.MaxCount {
		return errors.Wrapf(base.ErrPara, "count %d exceeds %d", count, prof.MaxCount)
	}
	return nil
}

func checkReduce(p *OpParam, prof config.HardwareProfile) error {
	if !p.ReduceOp.Valid() {
		return errors.Wrapf(base.ErrPara, "invalid reduce op %d", p.ReduceOp)
	}
	if !prof.SupportsReduce(p.DataType, p.ReduceOp) {
		return errors.Wrapf(base.ErrNotSupport, "%s does not reduce %s with %s", prof.DevType, p.DataType, p.ReduceOp)
	}
	return nil
}

func checkRoot(root, rankSize uint32) error {
	if root >= rankSize {
		return errors.Wrapf(base.ErrPara, "root %d out of %d ranks", root, rankSize)
	}
	return nil
}
