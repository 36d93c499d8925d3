package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

func init() {
	for _, f := range []string{"Ring", "DoubleRing", "Mesh"} {
		register("AllGather"+f+"Executor", func(e *executorBase) executor { return &allGatherExecutor{e} })
	}
	for _, f := range []string{"Ring", "Mesh"} {
		register("Broadcast"+f+"Executor", func(e *executorBase) executor { return &broadcastExecutor{e} })
	}
	register("ScatterRingExecutor", func(e *executorBase) executor { return &scatterExecutor{e} })
	register("GatherRingExecutor", func(e *executorBase) executor { return &gatherExecutor{e} })
}

func (e *executorBase) checkMoveParam(p *OpParam, inCount, outCount uint64) error {
	if err := checkDataType(p.DataType); err != nil {
		return err
	}
	if err := checkCount(p.Count, e.env.Profile); err != nil {
		return err
	}
	if err := checkMem(p.Input, inCount*p.unit(), "input"); err != nil {
		return err
	}
	return checkMem(p.Output, outCount*p.unit(), "output")
}

type allGatherExecutor struct{ *executorBase }

func (e *allGatherExecutor) ParseParam(p *OpParam) error {
	n := uint64(e.rankSize())
	if err := e.checkMoveParam(p, p.Count, p.Count*n); err != nil {
		return err
	}
	return e.parse(p, p.Size()*n, false)
}

func (e *allGatherExecutor) CalcCommInfo() []TransportRequest {
	return e.commInfo(MemCCLOutput, false)
}

func (e *allGatherExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	n := uint64(e.rankSize())
	me := uint64(e.h.rank)
	chunk, err := e.chunkCount(unit, n)
	if err != nil {
		return err
	}
	for off := uint64(0); off < p.Count; off += chunk {
		c := min(chunk, p.Count-off)
		b.copy(0, MemUserInput, MemCCLOutput, []base.Slice{{Offset: off * unit, Size: c * unit}}, int64(me*c*unit)-int64(off*unit))
		e.allGatherLevels(b, e.rankBlocks(0, c*unit, c*unit), MemCCLOutput, 0, 2)
		for g := uint64(0); g < n; g++ {
			dst := g*p.Count*unit + off*unit
			b.copy(0, MemCCLOutput, MemUserOutput, []base.Slice{{Offset: g * c * unit, Size: c * unit}}, int64(dst)-int64(g*c*unit))
		}
		e.loops++
	}
	return nil
}

// broadcastExecutor works on Input only, which is the buffer of every rank.
type broadcastExecutor struct{ *executorBase }

func (e *broadcastExecutor) ParseParam(p *OpParam) error {
	if err := checkRoot(p.Root, e.rankSize()); err != nil {
		return err
	}
	if err := checkDataType(p.DataType); err != nil {
		return err
	}
	if err := checkCount(p.Count, e.env.Profile); err != nil {
		return err
	}
	if err := checkMem(p.Input, p.Size(), "buffer"); err != nil {
		return err
	}
	return e.parse(p, p.Size(), false)
}

func (e *broadcastExecutor) CalcCommInfo() []TransportRequest {
	if e.huge {
		return e.commInfo(MemUserInput, false)
	}
	return e.commInfo(MemCCLInput, false)
}

// broadcastLevels scatters from the root's position then all-gathers, from
// the highest level down.
func (e *broadcastExecutor) broadcastLevels(b *builder, count, unit uint64, mem MemType) {
	root := e.param.Root
	for l := 2; l >= 0; l-- {
		if e.h.size[l] < 2 || !e.h.joins(l, root) {
			continue
		}
		super := e.evenSuper(l, count, unit)
		e.runLevel(b, l, stageScatter, super, mem, e.h.coord[root][l])
		e.runLevel(b, l, stageAllGather, super, mem, 0)
	}
}

func (e *broadcastExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	if e.huge {
		e.broadcastLevels(b, p.Count, unit, MemUserInput)
		e.loops = 1
		return nil
	}
	chunk, err := e.chunkCount(unit, 1)
	if err != nil {
		return err
	}
	isRoot := e.h.rank == p.Root
	for off := uint64(0); off < p.Count; off += chunk {
		n := min(chunk, p.Count-off)
		if isRoot {
			b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: off * unit, Size: n * unit}}, -int64(off*unit))
		}
		e.broadcastLevels(b, n, unit, MemCCLInput)
		if !isRoot {
			b.copy(0, MemCCLInput, MemUserInput, []base.Slice{{Size: n * unit}}, int64(off*unit))
		}
		e.loops++
	}
	return nil
}

// treeSuper groups the rank blocks for a level-l star stage: entry m holds
// the blocks of the ranks below member m, i.e. coordinate l equal to m and
// every higher coordinate equal to mine.
func (e *executorBase) treeSuper(blocks []dataBlock, l int) [][]base.Slice {
	super := make([][]base.Slice, e.h.size[l])
	for _, b := range blocks {
		below := true
		for j := l + 1; j < 3; j++ {
			if b.coord[j] != e.h.me[j] {
				below = false
				break
			}
		}
		if below {
			super[b.coord[l]] = append(super[b.coord[l]], b.slices...)
		}
	}
	return super
}

type scatterExecutor struct{ *executorBase }

func (e *scatterExecutor) ParseParam(p *OpParam) error {
	if err := checkRoot(p.Root, e.rankSize()); err != nil {
		return err
	}
	in := p.Count * uint64(e.rankSize())
	if p.Root != e.h.rank {
		in = 0
	}
	if err := e.checkMoveParam(p, in, p.Count); err != nil {
		return err
	}
	return e.parse(p, p.Size()*uint64(e.rankSize()), false)
}

func (e *scatterExecutor) CalcCommInfo() []TransportRequest {
	return e.commInfo(MemCCLInput, false)
}

// KernelRun hands the blocks down the levels: the root sends each member
// of its highest group the blocks of the ranks below that member.
func (e *scatterExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	n := uint64(e.rankSize())
	me := uint64(e.h.rank)
	chunk, err := e.chunkCount(unit, n)
	if err != nil {
		return err
	}
	for off := uint64(0); off < p.Count; off += chunk {
		c := min(chunk, p.Count-off)
		if e.h.rank == p.Root {
			for g := uint64(0); g < n; g++ {
				src := g*p.Count*unit + off*unit
				b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: src, Size: c * unit}}, int64(g*c*unit)-int64(src))
			}
		}
		blocks := e.rankBlocks(0, c*unit, c*unit)
		for l := 2; l >= 0; l-- {
			if e.h.size[l] < 2 || !e.h.joins(l, p.Root) {
				continue
			}
			e.runLevel(b, l, stageScatter, e.treeSuper(blocks, l), MemCCLInput, e.h.coord[p.Root][l])
		}
		b.copy(0, MemCCLInput, MemUserOutput, []base.Slice{{Offset: me * c * unit, Size: c * unit}}, int64(off*unit)-int64(me*c*unit))
		e.loops++
	}
	return nil
}

type gatherExecutor struct{ *executorBase }

func (e *gatherExecutor) ParseParam(p *OpParam) error {
	if err := checkRoot(p.Root, e.rankSize()); err != nil {
		return err
	}
	out := p.Count * uint64(e.rankSize())
	if p.Root != e.h.rank {
		out = 0
	}
	if err := e.checkMoveParam(p, p.Count, out); err != nil {
		return err
	}
	return e.parse(p, p.Size()*uint64(e.rankSize()), false)
}

func (e *gatherExecutor) CalcCommInfo() []TransportRequest {
	return e.commInfo(MemCCLInput, false)
}

// KernelRun collects the blocks up the levels towards the root.
func (e *gatherExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	n := uint64(e.rankSize())
	me := uint64(e.h.rank)
	chunk, err := e.chunkCount(unit, n)
	if err != nil {
		return err
	}
	for off := uint64(0); off < p.Count; off += chunk {
		c := min(chunk, p.Count-off)
		b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: off * unit, Size: c * unit}}, int64(me*c*unit)-int64(off*unit))
		blocks := e.rankBlocks(0, c*unit, c*unit)
		for l := 0; l < 3; l++ {
			if e.h.size[l] < 2 || !e.h.joins(l, p.Root) {
				continue
			}
			e.runLevel(b, l, stageGather, e.treeSuper(blocks, l), MemCCLInput, e.h.coord[p.Root][l])
		}
		if e.h.rank == p.Root {
			for g := uint64(0); g < n; g++ {
				dst := g*p.Count*unit + off*unit
				b.copy(0, MemCCLInput, MemUserOutput, []base.Slice{{Offset: g * c * unit, Size: c * unit}}, int64(dst)-int64(g*c*unit))
			}
		}
		e.loops++
	}
	return nil
}
