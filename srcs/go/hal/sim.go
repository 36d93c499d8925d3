package hal

import (
	"sync"
	"sync/atomic"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// Sim is an Adapter for a simulated server. Links follow the generation's
// module layout unless overridden with SetLink.
type Sim struct {
	devType  base.DevType
	devCount uint32
	// phyIDs[logic] = phy
	phyIDs []int32

	linkQueries int64

	mu        sync.Mutex
	links     map[[2]int32]base.LinkType
	next      uint64
	allocated map[uint64]uint64
}

const simHeapBase = 0x100000000

// NewSim creates a simulated server of n devices with identity logic to
// physical id mapping.
func NewSim(devType base.DevType, n uint32) *Sim {
	s := &Sim{
		devType:   devType,
		devCount:  n,
		links:     make(map[[2]int32]base.LinkType),
		next:      simHeapBase,
		allocated: make(map[uint64]uint64),
	}
	for i := uint32(0); i < n; i++ {
		s.phyIDs = append(s.phyIDs, int32(i))
	}
	return s
}

// SetPhysicalIDs overrides the logic to physical id mapping.
func (s *Sim) SetPhysicalIDs(phyIDs []int32) {
	s.phyIDs = append([]int32(nil), phyIDs...)
	s.devCount = uint32(len(phyIDs))
}

// SetLink overrides the link type of a pair in both directions.
func (s *Sim) SetLink(a, b int32, t base.LinkType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[[2]int32{a, b}] = t
	s.links[[2]int32{b, a}] = t
}

// LinkQueries is the number of PairLinkType calls so far.
func (s *Sim) LinkQueries() int64 {
	return atomic.LoadInt64(&s.linkQueries)
}

func (s *Sim) DeviceType() (base.DevType, error) { return s.devType, nil }

func (s *Sim) DeviceCount() (uint32, error) { return s.devCount, nil }

func (s *Sim) PhysicalID(logicID int32) (int32, error) {
	if logicID < 0 || int(logicID) >= len(s.phyIDs) {
		return 0, errors.Wrapf(base.ErrPara, "logic id %d out of %d devices", logicID, len(s.phyIDs))
	}
	return s.phyIDs[logicID], nil
}

func (s *Sim) LogicalID(phyID int32) (int32, error) {
	for i, p := range s.phyIDs {
		if p == phyID {
			return int32(i), nil
		}
	}
	return 0, errors.Wrapf(base.ErrNotFound, "no device with physical id %d", phyID)
}

func (s *Sim) hasPhy(phyID int32) bool {
	_, err := s.LogicalID(phyID)
	return err == nil
}

func (s *Sim) PairLinkType(a, b int32) (base.LinkType, error) {
	atomic.AddInt64(&s.linkQueries, 1)
	if !s.hasPhy(a) || !s.hasPhy(b) {
		return base.LinkReserved, errors.Wrapf(base.ErrPara, "unknown device pair (%d, %d)", a, b)
	}
	if a == b {
		return base.LinkOnchip, nil
	}
	s.mu.Lock()
	t, ok := s.links[[2]int32{a, b}]
	s.mu.Unlock()
	if ok {
		return t, nil
	}
	return defaultLink(s.devType, a, b), nil
}

// defaultLink is the link between distinct devices a and b in the standard
// server layout of a generation.
func defaultLink(t base.DevType, a, b int32) base.LinkType {
	switch t {
	case base.Dev910:
		// two 4-device HCCS modules joined by PCIe
		if a/4 == b/4 {
			return base.LinkHCCS
		}
		return base.LinkPCIe
	case base.Dev910B:
		return base.LinkHCCS
	case base.Dev910_93:
		// two dies of one chip talk over SIO
		if a/2 == b/2 {
			return base.LinkSIO
		}
		return base.LinkHCCSSW
	}
	return base.LinkPCIe
}

func (s *Sim) Malloc(size uint64) (DeviceMem, error) {
	if size == 0 {
		return DeviceMem{}, errors.Wrap(base.ErrPara, "malloc of 0 bytes")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.next
	s.next += (size + 511) / 512 * 512
	s.allocated[addr] = size
	return DeviceMem{Addr: addr, Size: size}, nil
}

func (s *Sim) Free(mem DeviceMem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocated[mem.Addr]; !ok {
		return errors.Wrapf(base.ErrPara, "free of unallocated %s", mem)
	}
	delete(s.allocated, mem.Addr)
	return nil
}

// Allocated is the number of live allocations.
func (s *Sim) Allocated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocated)
}
