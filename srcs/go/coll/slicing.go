package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/plan"
)

// dataBlock is the piece of the buffer owned by one grid coordinate once
// reduce-scatter is over.
type dataBlock struct {
	coord  [3]int
	slices []base.Slice
}

// PrepareSliceData partitions count elements starting at offset over the
// given coordinates, element counts differing by at most one.
func PrepareSliceData(offset, count uint64, unit int, coords [][3]int) []dataBlock {
	parts := plan.PartitionBytes(offset, count, unit, len(coords))
	blocks := make([]dataBlock, len(coords))
	for i, c := range coords {
		blocks[i] = dataBlock{coord: c, slices: nonEmpty(parts[i])}
	}
	return blocks
}

func nonEmpty(ss ...base.Slice) []base.Slice {
	var out []base.Slice
	for _, s := range ss {
		if s.Size > 0 {
			out = append(out, s)
		}
	}
	return out
}

// superBlocks groups the blocks still held at level l by their level-l
// coordinate: entry m lists the slices that end up on member m.
func superBlocks(h *hierarchy, blocks []dataBlock, l int) [][]base.Slice {
	super := make([][]base.Slice, h.size[l])
	for _, b := range blocks {
		held := true
		for j := 0; j < l; j++ {
			if b.coord[j] != h.me[j] {
				held = false
				break
			}
		}
		if held {
			super[b.coord[l]] = append(super[b.coord[l]], b.slices...)
		}
	}
	return super
}

// splitParts cuts every slice into k element-aligned parts and returns the
// i-th part of each.
func splitParts(slices []base.Slice, unit int, k, i int) []base.Slice {
	if k == 1 {
		return slices
	}
	var out []base.Slice
	for _, s := range slices {
		out = append(out, nonEmpty(plan.PartitionBytes(s.Offset, s.Size/uint64(unit), unit, k)[i])...)
	}
	return out
}

// SplitLanes divides the slices of an inter-server stage between the SDMA
// and the RDMA lane. At or below the profile's split threshold everything
// goes to SDMA and the RDMA share is empty. Above it each slice gives ratio
// percent, rounded down to the alignment, to SDMA and the rest to RDMA.
func SplitLanes(slices []base.Slice, ratio uint64, prof config.HardwareProfile) (sdma, rdma []base.Slice) {
	if base.TotalSize(slices) <= prof.SplitThreshold {
		return slices, nil
	}
	for _, s := range slices {
		a, b := splitSlice(s, ratio, prof.Alignment)
		sdma = append(sdma, a...)
		rdma = append(rdma, b...)
	}
	return sdma, rdma
}

func splitSlice(s base.Slice, ratio, align uint64) ([]base.Slice, []base.Slice) {
	if align == 0 {
		align = 1
	}
	n := base.RoundDown(s.Size*ratio/100, align)
	return nonEmpty(base.Slice{Offset: s.Offset, Size: n}), nonEmpty(base.Slice{Offset: s.Offset + n, Size: s.Size - n})
}

// splitSuper applies SplitLanes to every member's share, the threshold
// being taken over the whole stage so that all members agree.
func splitSuper(super [][]base.Slice, ratio uint64, prof config.HardwareProfile) (sdma, rdma [][]base.Slice) {
	var total uint64
	for _, ss := range super {
		total += base.TotalSize(ss)
	}
	sdma = make([][]base.Slice, len(super))
	rdma = make([][]base.Slice, len(super))
	if total <= prof.SplitThreshold {
		copy(sdma, super)
		return sdma, rdma
	}
	for i, ss := range super {
		for _, s := range ss {
			a, b := splitSlice(s, ratio, prof.Alignment)
			sdma[i] = append(sdma[i], a...)
			rdma[i] = append(rdma[i], b...)
		}
	}
	return sdma, rdma
}

// BestRatio is the SDMA share for a level-0 pattern.
func BestRatio(level0 base.AlgLevel0, prof config.HardwareProfile) uint64 {
	if level0 == base.Level0NPDoubleRing {
		return prof.BestRatioDoubleRing
	}
	return prof.BestRatioSingleRing
}
