package config

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

// HardwareProfile carries the thresholds that differ between accelerator
// generations. The planner never hardcodes them.
type HardwareProfile struct {
	DevType base.DevType

	// SplitThreshold is the inter-server stage size at or below which all
	// data goes through the SDMA lane.
	SplitThreshold uint64
	// BestRatioSingleRing and BestRatioDoubleRing are the SDMA share of a
	// slice, in percent, above SplitThreshold.
	BestRatioSingleRing uint64
	BestRatioDoubleRing uint64
	// Alignment is the granularity of the SDMA share.
	Alignment uint64

	RDMASendMaxSize  uint64
	SDMASendMaxSize  uint64
	InterNodeMaxRate uint64

	// NHRSmallSize selects the one shot NHR variant at or below it.
	NHRSmallSize uint64
	// RingHDThreshold is the level-1 stage size at or below which
	// halving-doubling is preferred over ring when no algorithm is
	// configured and the server count is not a power of two.
	RingHDThreshold uint64

	// MaxCount bounds the element count of one public call.
	MaxCount uint64

	ReduceTypes map[base.DataType]bool
	ReduceOps   map[base.ReduceOp]bool
	// SDMAReduceTypes are reduced in place by the SDMA engine; other
	// combinations need a scratch buffer.
	SDMAReduceTypes map[base.DataType]bool
	SDMAReduceOps   map[base.ReduceOp]bool
	RDMAReduceTypes map[base.DataType]bool
}

const (
	KB = 1 << 10
	GB = 1 << 30
)

func set[T comparable](vs ...T) map[T]bool {
	m := make(map[T]bool)
	for _, v := range vs {
		m[v] = true
	}
	return m
}

var commonProfile = HardwareProfile{
	SplitThreshold:      8 * MB,
	BestRatioSingleRing: 87,
	BestRatioDoubleRing: 90,
	Alignment:           128,
	RDMASendMaxSize:     0x80000000,
	SDMASendMaxSize:     0x100000000,
	InterNodeMaxRate:    1,
	NHRSmallSize:        256 * KB,
	RingHDThreshold:     256 * KB,
	MaxCount:            1 << 42,
	ReduceTypes:         set(base.I8, base.I16, base.I32, base.F16, base.F32),
	ReduceOps:           set(base.SUM, base.PROD, base.MAX, base.MIN),
	SDMAReduceTypes:     set[base.DataType](),
	SDMAReduceOps:       set[base.ReduceOp](),
	RDMAReduceTypes:     set(base.F32),
}

// Profiles are the built-in profiles. Generations without an entry use the
// 910 profile.
var Profiles = map[base.DevType]HardwareProfile{
	base.Dev910: with(base.Dev910, func(p *HardwareProfile) {
		p.SDMAReduceTypes = set(base.F16, base.F32, base.I32)
		p.SDMAReduceOps = set(base.SUM)
	}),
	base.Dev910B: with(base.Dev910B, func(p *HardwareProfile) {
		p.Alignment = 16 * KB
		p.ReduceTypes = set(base.I8, base.I16, base.I32, base.I64, base.F16, base.F32, base.BF16)
		p.SDMAReduceTypes = set(base.I8, base.I16, base.I32, base.F16, base.F32, base.BF16)
		p.SDMAReduceOps = set(base.SUM, base.MAX, base.MIN)
		p.RDMAReduceTypes = set(base.I32, base.F16, base.F32, base.BF16)
	}),
	base.Dev910_93: with(base.Dev910_93, func(p *HardwareProfile) {
		p.Alignment = 16 * KB
		p.SplitThreshold = 64 * MB
		p.ReduceTypes = set(base.I8, base.I16, base.I32, base.I64, base.F16, base.F32, base.BF16)
		p.SDMAReduceTypes = set(base.I8, base.I16, base.I32, base.F16, base.F32, base.BF16)
		p.SDMAReduceOps = set(base.SUM, base.MAX, base.MIN)
		p.RDMAReduceTypes = set(base.I32, base.F16, base.F32, base.BF16)
	}),
	base.Dev310P3: with(base.Dev310P3, func(p *HardwareProfile) {
		p.ReduceTypes = set(base.I8, base.I16, base.I32, base.F16, base.F32)
		p.ReduceOps = set(base.SUM, base.MAX, base.MIN)
	}),
}

func with(t base.DevType, f func(*HardwareProfile)) HardwareProfile {
	p := commonProfile
	p.DevType = t
	f(&p)
	return p
}

// ProfileOf returns the profile of a generation.
func ProfileOf(t base.DevType) HardwareProfile {
	if p, ok := Profiles[t]; ok {
		return p
	}
	p := Profiles[base.Dev910]
	p.DevType = t
	return p
}

// SupportsReduce reports whether the generation can reduce dtype with op.
func (p HardwareProfile) SupportsReduce(dtype base.DataType, op base.ReduceOp) bool {
	return p.ReduceTypes[dtype] && p.ReduceOps[op]
}

// SupportsSDMAReduce reports whether the SDMA engine reduces in place.
func (p HardwareProfile) SupportsSDMAReduce(dtype base.DataType, op base.ReduceOp) bool {
	return p.SDMAReduceTypes[dtype] && p.SDMAReduceOps[op]
}

// SupportsRDMAReduce reports whether the NIC reduces in place.
func (p HardwareProfile) SupportsRDMAReduce(dtype base.DataType, op base.ReduceOp) bool {
	return p.RDMAReduceTypes[dtype] && op == base.SUM
}

// IsHugeData classifies a level-0 stage: true iff
// size / devNumPerAggregation / InterNodeMaxRate > RDMASendMaxSize or
// size > SDMASendMaxSize.
func (p HardwareProfile) IsHugeData(size uint64, devNumPerAggregation uint64) bool {
	if devNumPerAggregation == 0 {
		devNumPerAggregation = 1
	}
	rate := p.InterNodeMaxRate
	if rate == 0 {
		rate = 1
	}
	return size/devNumPerAggregation/rate > p.RDMASendMaxSize || size > p.SDMASendMaxSize
}
