package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
)

func init() {
	for _, f := range []string{"Ring", "DoubleRing", "Mesh"} {
		register("AllReduce"+f+"Executor", func(e *executorBase) executor { return &allReduceExecutor{e} })
		register("ReduceScatter"+f+"Executor", func(e *executorBase) executor { return &reduceScatterExecutor{e} })
	}
	register("AllReduceSingleRankExecutor", func(e *executorBase) executor { return &singleRankExecutor{e} })
	register("ReduceRingExecutor", func(e *executorBase) executor { return &reduceExecutor{e} })
}

func (e *executorBase) checkReduceParam(p *OpParam, inCount, outCount uint64, needOut bool) error {
	prof := e.env.Profile
	if err := checkDataType(p.DataType); err != nil {
		return err
	}
	if err := checkCount(p.Count, prof); err != nil {
		return err
	}
	if err := checkReduce(p, prof); err != nil {
		return err
	}
	if err := checkMem(p.Input, inCount*p.unit(), "input"); err != nil {
		return err
	}
	if needOut {
		return checkMem(p.Output, outCount*p.unit(), "output")
	}
	return nil
}

// nicGate returns the level-0 positions whose device has an active NIC
// when an 8P ring crosses servers with fewer NICs than devices, nil when
// every position takes part in inter-server stages.
func (e *executorBase) nicGate() []int {
	if e.level0 != base.Level0EightPRing || e.h.size[1]*e.h.size[2] < 2 {
		return nil
	}
	attr := e.env.Attr
	if len(attr.NicList) == 0 || len(attr.NicList) == e.h.size[0] {
		return nil
	}
	var active []int
	for m := 0; m < e.h.size[0]; m++ {
		r, ok := e.env.Topo.Ranks.Rank(e.h.member(0, m))
		if ok && attr.HasNic(r.DevicePhyID) {
			active = append(active, m)
		}
	}
	if !attr.HasNic(attr.DevicePhyID) {
		log.Debugf("device %d has no active NIC, skipping inter-server stages", attr.DevicePhyID)
	}
	return active
}

// allReduceChain runs count elements through the reduce-scatter and all-gather
// chain: level-0 reduce-scatter in mem, levels 1 and 2, then level-0
// all-gather in out.
func (e *executorBase) allReduceChain(b *builder, count uint64, coords [][3]int, mem, out MemType) {
	blocks := PrepareSliceData(0, count, e.param.DataType.Size(), coords)
	e.reduceScatterLevels(b, blocks, mem, 0, 0)
	if _, ok := e.level1.(OneShot); ok {
		e.runLevel(b, 1, stageAllReduce, superBlocks(e.h, blocks, 1), mem, 0)
	} else {
		e.reduceScatterLevels(b, blocks, mem, 1, 2)
		e.allGatherLevels(b, blocks, mem, 1, 2)
	}
	if out != mem {
		b.copy(0, mem, out, e.held(blocks, 0), 0)
	}
	e.allGatherLevels(b, blocks, out, 0, 0)
}

type allReduceExecutor struct{ *executorBase }

func (e *allReduceExecutor) ParseParam(p *OpParam) error {
	if err := e.checkReduceParam(p, p.Count, p.Count, true); err != nil {
		return err
	}
	return e.parse(p, p.Size(), true)
}

func (e *allReduceExecutor) CalcCommInfo() []TransportRequest {
	if e.huge {
		return e.commInfo(MemUserOutput, true)
	}
	return e.commInfo(MemCCLInput, true)
}

// KernelRun: huge requests reduce in place in the user output buffer in
// one pass; others are staged through the CCL buffers one chunk at a time.
func (e *allReduceExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	coords := e.gridCoords(e.nicGate())
	if e.huge {
		b.copy(0, MemUserInput, MemUserOutput, []base.Slice{{Size: p.Size()}}, 0)
		e.allReduceChain(b, p.Count, coords, MemUserOutput, MemUserOutput)
		e.loops, e.scratchSize = 1, p.Size()
		return nil
	}
	chunk, err := e.chunkCount(unit, 1)
	if err != nil {
		return err
	}
	e.scratchSize = min(chunk, p.Count) * unit
	for off := uint64(0); off < p.Count; off += chunk {
		n := min(chunk, p.Count-off)
		b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: off * unit, Size: n * unit}}, -int64(off*unit))
		e.allReduceChain(b, n, coords, MemCCLInput, MemCCLOutput)
		b.copy(0, MemCCLOutput, MemUserOutput, []base.Slice{{Size: n * unit}}, int64(off*unit))
		e.loops++
	}
	return nil
}

// singleRankExecutor copies the input to the output.
type singleRankExecutor struct{ *executorBase }

func (e *singleRankExecutor) ParseParam(p *OpParam) error {
	if err := e.checkReduceParam(p, p.Count, p.Count, true); err != nil {
		return err
	}
	e.param, e.size = p, p.Size()
	return nil
}

func (e *singleRankExecutor) CalcStreamNum() int {
	e.streams = 1
	return 1
}

func (e *singleRankExecutor) CalcCommInfo() []TransportRequest { return nil }

func (e *singleRankExecutor) KernelRun(b *builder) error {
	p := e.param
	if p.Input.Addr != p.Output.Addr {
		b.copy(0, MemUserInput, MemUserOutput, []base.Slice{{Size: p.Size()}}, 0)
	}
	e.loops = 1
	return nil
}

type reduceScatterExecutor struct{ *executorBase }

func (e *reduceScatterExecutor) ParseParam(p *OpParam) error {
	n := uint64(e.rankSize())
	if err := e.checkReduceParam(p, p.Count*n, p.Count, true); err != nil {
		return err
	}
	return e.parse(p, p.Size()*n, true)
}

func (e *reduceScatterExecutor) CalcCommInfo() []TransportRequest {
	return e.commInfo(MemCCLInput, true)
}

// KernelRun stages chunk elements of every rank's block per loop, block g
// at g*chunk in the CCL input.
func (e *reduceScatterExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	n := uint64(e.rankSize())
	me := uint64(e.h.rank)
	chunk, err := e.chunkCount(unit, n)
	if err != nil {
		return err
	}
	e.scratchSize = min(chunk, p.Count) * unit * n
	for off := uint64(0); off < p.Count; off += chunk {
		c := min(chunk, p.Count-off)
		for g := uint64(0); g < n; g++ {
			src := g*p.Count*unit + off*unit
			b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: src, Size: c * unit}}, int64(g*c*unit)-int64(src))
		}
		blocks := e.rankBlocks(0, c*unit, c*unit)
		e.reduceScatterLevels(b, blocks, MemCCLInput, 0, 2)
		b.copy(0, MemCCLInput, MemUserOutput, []base.Slice{{Offset: me * c * unit, Size: c * unit}}, int64(off*unit)-int64(me*c*unit))
		e.loops++
	}
	return nil
}

type reduceExecutor struct{ *executorBase }

func (e *reduceExecutor) ParseParam(p *OpParam) error {
	if err := checkRoot(p.Root, e.rankSize()); err != nil {
		return err
	}
	if err := e.checkReduceParam(p, p.Count, p.Count, p.Root == e.h.rank); err != nil {
		return err
	}
	return e.parse(p, p.Size(), true)
}

func (e *reduceExecutor) CalcCommInfo() []TransportRequest {
	return e.commInfo(MemCCLInput, true)
}

// KernelRun reduces level by level towards the root: reduce-scatter over
// the group, then gather on the member at the root's position. Only the
// members at the root's position go on to the next level.
func (e *reduceExecutor) KernelRun(b *builder) error {
	p := e.param
	unit := p.unit()
	root := p.Root
	chunk, err := e.chunkCount(unit, 1)
	if err != nil {
		return err
	}
	e.scratchSize = min(chunk, p.Count) * unit
	for off := uint64(0); off < p.Count; off += chunk {
		n := min(chunk, p.Count-off)
		b.copy(0, MemUserInput, MemCCLInput, []base.Slice{{Offset: off * unit, Size: n * unit}}, -int64(off*unit))
		for l := 0; l < 3; l++ {
			if e.h.size[l] < 2 || !e.h.joins(l, root) {
				continue
			}
			super := e.evenSuper(l, n, unit)
			rootMember := e.h.coord[root][l]
			e.runLevel(b, l, stageReduceScatter, super, MemCCLInput, 0)
			e.runLevel(b, l, stageGather, super, MemCCLInput, rootMember)
		}
		if e.h.rank == root {
			b.copy(0, MemCCLInput, MemUserOutput, []base.Slice{{Size: n * unit}}, int64(off*unit))
		}
		e.loops++
	}
	return nil
}

// evenSuper splits count elements at offset 0 evenly over my level-l group.
func (e *executorBase) evenSuper(l int, count, unit uint64) [][]base.Slice {
	parts := plan.PartitionBytes(0, count, int(unit), e.h.size[l])
	super := make([][]base.Slice, len(parts))
	for i, s := range parts {
		super[i] = nonEmpty(s)
	}
	return super
}
