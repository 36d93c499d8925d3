package coll

import (
	"testing"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/topo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SelectLevel0(t *testing.T) {
	tests := []struct {
		attr topo.Attr
		n0   int
		flat bool
		want base.AlgLevel0
	}{
		{topo.Attr{DevType: base.Dev910}, 1, false, base.Level0OneP},
		{topo.Attr{DevType: base.Dev910, IsDiffDeviceModule: true}, 8, false, base.Level0EightPRing},
		{topo.Attr{DevType: base.Dev910, IsDiffDeviceModule: true, MultiModuleDiffDeviceNum: true}, 8, false, base.Level0NPSingleRing},
		{topo.Attr{DevType: base.Dev910, IsSingleMesh: true}, 4, false, base.Level0FourPMesh},
		{topo.Attr{DevType: base.Dev910, IsSingleMesh: true}, 2, false, base.Level0TwoPMesh},
		{topo.Attr{DevType: base.Dev910B, IsSingleMesh: true}, 8, false, base.Level0NPMesh},
		{topo.Attr{DevType: base.Dev910B}, 8, false, base.Level0NPSingleRing},
		{topo.Attr{DevType: base.Dev910_93}, 16, false, base.Level0NPDoubleRing},
		{topo.Attr{DevType: base.Dev910_93}, 2, false, base.Level0NPSingleRing},
		{topo.Attr{DevType: base.Dev910B, IsSingleMesh: true}, 6, true, base.Level0NPSingleRing},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.want, SelectLevel0(&tt.attr, tt.n0, tt.flat), "case %d", i)
	}
}

func Test_SelectLevel1(t *testing.T) {
	p910 := config.ProfileOf(base.Dev910)
	p910B := config.ProfileOf(base.Dev910B)
	none := base.AlgoConfig{}
	assert.Equal(t, base.Level1Whole, SelectLevel1(none, p910, 1<<30, 1))
	assert.Equal(t, base.Level1HD, SelectLevel1(none, p910, 1<<30, 4))
	assert.Equal(t, base.Level1HD, SelectLevel1(none, p910, p910.RingHDThreshold, 3))
	assert.Equal(t, base.Level1Ring, SelectLevel1(none, p910, p910.RingHDThreshold+1, 3))
	assert.Equal(t, base.Level1NHR, SelectLevel1(none, p910B, 1<<30, 3))
	nb := base.AlgoConfig{Level1: base.Level1NB, HasLevel1: true}
	assert.Equal(t, base.Level1NB, SelectLevel1(nb, p910B, 0, 3))

	assert.Equal(t, base.Level2HD, SelectLevel2(none, 4))
	assert.Equal(t, base.Level2Ring, SelectLevel2(none, 3))
	assert.Equal(t, base.Level2NB, SelectLevel2(base.AlgoConfig{Level2: base.Level2NB, HasLevel2: true}, 4))
}

func Test_Level1Algorithm(t *testing.T) {
	prof := config.ProfileOf(base.Dev910B)
	a, err := level1Algorithm(base.Level1NHR, base.AllReduce, prof.NHRSmallSize, prof, false, false)
	require.NoError(t, err)
	assert.Equal(t, "nhr-oneshot", a.Pattern().String())

	for _, tt := range []struct {
		op                       base.CollType
		size                     uint64
		hasLevel2, deterministic bool
	}{
		{base.AllReduce, prof.NHRSmallSize + 1, false, false},
		{base.AllReduce, 0, true, false},
		{base.AllReduce, 0, false, true},
		{base.ReduceScatter, 0, false, false},
	} {
		a, err := level1Algorithm(base.Level1NHR, tt.op, tt.size, prof, tt.hasLevel2, tt.deterministic)
		require.NoError(t, err)
		assert.Equal(t, base.PatternNHR, a.Pattern())
	}

	_, err = level1Algorithm(base.Level1Pipeline, base.AllReduce, 0, prof, false, false)
	assert.Equal(t, base.ErrNotSupport, base.CodeOf(err))
}

func Test_ExecutorName(t *testing.T) {
	tests := []struct {
		op     base.CollType
		level0 base.AlgLevel0
		ranks  uint32
		want   string
	}{
		{base.AllReduce, base.Level0NPSingleRing, 1, "AllReduceSingleRankExecutor"},
		{base.AllReduce, base.Level0EightPRing, 16, "AllReduceRingExecutor"},
		{base.AllReduce, base.Level0NPDoubleRing, 16, "AllReduceDoubleRingExecutor"},
		{base.AllReduce, base.Level0NPMesh, 16, "AllReduceMeshExecutor"},
		{base.AllGather, base.Level0FourPMesh, 4, "AllGatherMeshExecutor"},
		{base.ReduceScatter, base.Level0NPDoubleRing, 4, "ReduceScatterDoubleRingExecutor"},
		{base.Broadcast, base.Level0NPDoubleRing, 4, "BroadcastRingExecutor"},
		{base.Broadcast, base.Level0TwoPMesh, 2, "BroadcastMeshExecutor"},
		{base.Reduce, base.Level0NPMesh, 4, "ReduceRingExecutor"},
		{base.AllToAllVC, base.Level0NPMesh, 4, "AllToAllPairwiseExecutor"},
		{base.Receive, base.Level0NPMesh, 4, "ReceiveExecutor"},
	}
	for _, tt := range tests {
		name, err := executorName(tt.op, tt.level0, tt.ranks)
		require.NoError(t, err)
		assert.Equal(t, tt.want, name)
		assert.Contains(t, Executors(), name)
	}
}

func Test_Executors(t *testing.T) {
	names := Executors()
	assert.Len(t, names, 19)
	assert.IsIncreasing(t, names)
	assert.Panics(t, func() { register("SendExecutor", nil) })
}

func Test_SplitLanes(t *testing.T) {
	prof := config.ProfileOf(base.Dev910B)
	prof.SplitThreshold = 1000
	prof.Alignment = 16

	at := []base.Slice{{Offset: 0, Size: 600}, {Offset: 4096, Size: 400}}
	sdma, rdma := SplitLanes(at, 87, prof)
	assert.Equal(t, at, sdma)
	assert.Empty(t, rdma)

	above := []base.Slice{{Offset: 0, Size: 601}, {Offset: 4096, Size: 400}}
	sdma, rdma = SplitLanes(above, 87, prof)
	assert.Equal(t, []base.Slice{{Offset: 0, Size: 512}, {Offset: 4096, Size: 336}}, sdma)
	assert.Equal(t, []base.Slice{{Offset: 512, Size: 89}, {Offset: 4432, Size: 64}}, rdma)
	assert.Equal(t, base.TotalSize(above), base.TotalSize(sdma)+base.TotalSize(rdma))

	assert.Equal(t, prof.BestRatioDoubleRing, BestRatio(base.Level0NPDoubleRing, prof))
	assert.Equal(t, prof.BestRatioSingleRing, BestRatio(base.Level0EightPRing, prof))
}

func Test_SplitSuperAgrees(t *testing.T) {
	prof := config.ProfileOf(base.Dev910B)
	prof.SplitThreshold = 1000
	prof.Alignment = 4
	// each share alone is under the threshold, the stage is not
	super := [][]base.Slice{{{Offset: 0, Size: 800}}, {{Offset: 800, Size: 800}}}
	sdma, rdma := splitSuper(super, 90, prof)
	for m := range super {
		assert.Equal(t, uint64(720), base.TotalSize(sdma[m]))
		assert.Equal(t, uint64(80), base.TotalSize(rdma[m]))
	}
}

func Test_PrepareSliceData(t *testing.T) {
	coords := [][3]int{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}}
	blocks := PrepareSliceData(64, 10, 4, coords)
	require.Len(t, blocks, 4)
	var total uint64
	next := uint64(64)
	for _, b := range blocks {
		require.Len(t, b.slices, 1)
		assert.Equal(t, next, b.slices[0].Offset)
		next += b.slices[0].Size
		total += b.slices[0].Size
		assert.Contains(t, []uint64{8, 12}, b.slices[0].Size)
	}
	assert.Equal(t, uint64(40), total)

	empty := PrepareSliceData(0, 2, 4, coords)
	assert.Len(t, empty[3].slices, 0)
}
