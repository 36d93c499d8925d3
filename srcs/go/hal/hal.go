// Package hal is the boundary to the accelerator runtime. Everything the
// planner needs from the device goes through Adapter.
package hal

import (
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

// DeviceMem is a region of device memory.
type DeviceMem struct {
	Addr uint64
	Size uint64
}

func (m DeviceMem) IsNil() bool { return m.Addr == 0 }

// Range returns the sub region [offset, offset+size). It returns the nil
// region if the range is out of bounds.
func (m DeviceMem) Range(offset, size uint64) DeviceMem {
	if m.IsNil() || offset+size > m.Size {
		return DeviceMem{}
	}
	return DeviceMem{Addr: m.Addr + offset, Size: size}
}

func (m DeviceMem) String() string {
	return fmt.Sprintf("mem(%#x+%d)", m.Addr, m.Size)
}

// Adapter is implemented by a device runtime.
type Adapter interface {
	DeviceType() (base.DevType, error)
	DeviceCount() (uint32, error)
	PhysicalID(logicID int32) (int32, error)
	LogicalID(phyID int32) (int32, error)
	// PairLinkType classifies the link between two devices of this server.
	PairLinkType(phyA, phyB int32) (base.LinkType, error)
	Malloc(size uint64) (DeviceMem, error)
	Free(mem DeviceMem) error
}
