package topo

import (
	"fmt"
	"net"
	"testing"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genTopology(t *testing.T, servers int, devices []int32) *plan.RankTopology {
	topo := &plan.RankTopology{NicDeploy: base.NicDeployDevice}
	var id uint32
	for s := 0; s < servers; s++ {
		serverID := fmt.Sprintf("10.0.0.%d", s+1)
		require.NoError(t, topo.AddServer(plan.ServerEntry{ServerID: serverID}))
		for _, d := range devices {
			r := plan.NewRankEntry()
			r.RankID = id
			r.ServerID = serverID
			r.DevicePhyID = d
			r.DeviceIPs = []net.IP{plan.MustParseIP(fmt.Sprintf("192.168.%d.%d", s, d))}
			require.NoError(t, topo.AddRank(r))
			id++
		}
	}
	require.NoError(t, topo.AssignIndices())
	require.NoError(t, topo.Recount())
	topo.Freeze()
	return topo
}

func Test_SingleRank(t *testing.T) {
	sim := hal.NewSim(base.Dev910B, 8)
	topo := genTopology(t, 1, []int32{3})
	a, err := New(topo, 0, sim)
	require.NoError(t, err)
	assert.True(t, a.IsAllRankSamePlane())
	single, err := a.IsSingleMeshAggregation()
	require.NoError(t, err)
	assert.True(t, single)
	n, err := a.GetDeviceNumInPerMeshAggregation(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
	info, err := a.GetServerInnerLinkInfo()
	require.NoError(t, err)
	assert.Empty(t, info.Counts)
	attr, err := a.Attr()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), attr.DeviceNumPerAggregation)
	assert.Equal(t, int64(0), sim.LinkQueries())
}

func Test_910Modules(t *testing.T) {
	sim := hal.NewSim(base.Dev910, 8)
	topo := genTopology(t, 1, []int32{0, 1, 2, 3, 4, 5, 6, 7})
	a, err := New(topo, 5, sim)
	require.NoError(t, err)
	assert.False(t, a.IsAllRankSamePlane())
	n, err := a.GetDeviceNumInPerMeshAggregation(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
	single, err := a.IsSingleMeshAggregation()
	require.NoError(t, err)
	assert.False(t, single)
	info, err := a.GetServerInnerLinkInfo()
	require.NoError(t, err)
	assert.Equal(t, 12, info.Counts[base.LinkHCCS])
	assert.Equal(t, 16, info.Counts[base.LinkPCIe])
	assert.True(t, info.Adjacency[base.LinkHCCS].IsComplete([]int{0, 1, 2, 3}))
	assert.Equal(t, []int{4, 5, 6, 7}, info.Adjacency[base.LinkHCCS].Component(5))
	i, ok := info.Index(6)
	require.True(t, ok)
	assert.Equal(t, 6, i)

	attr, err := a.Attr()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), attr.ModuleNum)
	assert.True(t, attr.IsDiffDeviceModule)
	assert.False(t, attr.MultiModuleDiffDeviceNum)
	assert.Len(t, attr.NicList, 8)
	assert.True(t, attr.HasNic(7))
	_, err = a.GetDeviceNumInPerMeshAggregation(9)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
}

func Test_910BMesh(t *testing.T) {
	sim := hal.NewSim(base.Dev910B, 8)
	topo := genTopology(t, 1, []int32{0, 1, 2, 3, 4, 5, 6, 7})
	a, err := New(topo, 0, sim)
	require.NoError(t, err)
	single, err := a.IsSingleMeshAggregation()
	require.NoError(t, err)
	assert.True(t, single)
	queries := sim.LinkQueries()
	_, err = a.GetServerInnerLinkInfo()
	require.NoError(t, err)
	assert.Equal(t, queries, sim.LinkQueries())

	multi := genTopology(t, 2, []int32{0, 1, 2, 3, 4, 5, 6, 7})
	b, err := New(multi, 9, hal.NewSim(base.Dev910B, 8))
	require.NoError(t, err)
	single, err = b.IsSingleMeshAggregation()
	require.NoError(t, err)
	assert.False(t, single)
	attr, err := b.Attr()
	require.NoError(t, err)
	assert.Equal(t, uint32(8), attr.DeviceNumPerAggregation)
	assert.Equal(t, uint32(1), attr.ModuleNum)
	assert.Equal(t, []uint32{1, 9}, attr.Level1.IDs())
	assert.Empty(t, attr.Level2)
}

func Test_SamePlane(t *testing.T) {
	topo := genTopology(t, 3, []int32{2})
	a, err := New(topo, 1, hal.NewSim(base.Dev910B, 8))
	require.NoError(t, err)
	assert.True(t, a.IsAllRankSamePlane())
	_, err = New(topo, 3, hal.NewSim(base.Dev910B, 8))
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	_, err = New(topo, 0, nil)
	assert.Equal(t, base.ErrPtr, base.CodeOf(err))
}
