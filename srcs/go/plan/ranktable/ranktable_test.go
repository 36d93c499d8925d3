package ranktable

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	id, rank int
	sdid     int
}

func genConcise(version string, servers [][]device, pods map[string][]int) string {
	var ss []string
	for s, devs := range servers {
		var ds []string
		for _, d := range devs {
			extra := ""
			if d.sdid >= 0 {
				extra = fmt.Sprintf(`, "super_device_id": "%d"`, d.sdid)
			}
			ds = append(ds, fmt.Sprintf(`{"device_id": "%d", "device_ip": "192.168.%d.%d", "rank_id": "%d"%s}`, d.id, s, d.id, d.rank, extra))
		}
		ss = append(ss, fmt.Sprintf(`{"server_id": "10.0.0.%d", "device": [%s]}`, s+1, strings.Join(ds, ",")))
	}
	podList := ""
	if len(pods) > 0 {
		var ps []string
		for id, members := range pods {
			var ms []string
			for _, m := range members {
				ms = append(ms, fmt.Sprintf(`{"server_id": "10.0.0.%d"}`, m+1))
			}
			ps = append(ps, fmt.Sprintf(`{"super_pod_id": "%s", "server_list": [%s]}`, id, strings.Join(ms, ",")))
		}
		podList = fmt.Sprintf(`, "super_pod_list": [%s]`, strings.Join(ps, ","))
	}
	return fmt.Sprintf(`{"version": "%s", "status": "completed", "server_count": "%d", "server_list": [%s]%s}`,
		version, len(servers), strings.Join(ss, ","), podList)
}

func genServers(n, m int, sdid bool) [][]device {
	var servers [][]device
	for s := 0; s < n; s++ {
		var devs []device
		for d := 0; d < m; d++ {
			dev := device{id: d, rank: s*m + d, sdid: -1}
			if sdid {
				dev.sdid = s*m + d
			}
			devs = append(devs, dev)
		}
		servers = append(servers, devs)
	}
	return servers
}

func Test_Concise2x8(t *testing.T) {
	text := genConcise("1.0", genServers(2, 8, false), nil)
	kind, err := Detect(text)
	require.NoError(t, err)
	assert.Equal(t, Concise, kind)
	topo, err := Load(text)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), topo.DeviceNum)
	assert.Equal(t, uint32(2), topo.ServerNum)
	assert.Equal(t, uint32(0), topo.SuperPodNum)
	assert.Equal(t, uint32(16), topo.RankNum)
	assert.True(t, topo.Frozen())
	assert.Equal(t, base.NicDeployDevice, topo.NicDeploy)
	for i, r := range topo.Ranks {
		assert.Equal(t, uint32(i), r.RankID)
		if i < 8 {
			assert.Equal(t, "10.0.0.1", r.ServerID)
		} else {
			assert.Equal(t, "10.0.0.2", r.ServerID)
		}
		assert.Equal(t, uint32(i%8), r.LocalRank)
	}
}

func Test_MalformedRankIDs(t *testing.T) {
	servers := [][]device{{{0, 0, -1}, {1, 1, -1}, {2, 1, -1}, {3, 3, -1}}}
	p := New(Concise, genConcise("1.0", servers, nil))
	err := p.Init()
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	_, err = p.GetClusterInfo()
	assert.Equal(t, base.ErrInternal, base.CodeOf(err))

	topo := &plan.RankTopology{}
	for i, id := range []uint32{0, 1, 1, 3} {
		r := plan.NewRankEntry()
		r.RankID, r.DevicePhyID, r.ServerID = id, int32(i), "s0"
		require.NoError(t, topo.AddRank(r))
	}
	require.NoError(t, topo.Recount())
	assert.Equal(t, base.ErrPara, base.CodeOf(CheckRankListInfo(topo, CheckOptions{})))
	assert.Equal(t, base.ErrPara, base.CodeOf(CheckRankIDContinuous(topo)))
}

func Test_SubGroupChecks(t *testing.T) {
	topo, err := Load(genConcise("1.0", genServers(2, 8, false), nil))
	require.NoError(t, err)
	for _, ranks := range [][]uint32{{0, 1, 2}, {0, 1, 2, 3, 4, 5}, {0, 1, 8}} {
		sub, err := topo.SubGroup(ranks)
		require.NoError(t, err)
		assert.Error(t, CheckRankListInfo(sub, CheckOptions{}), "%v", ranks)
		assert.NoError(t, CheckRankListInfo(sub, CheckOptions{SubGroup: true}), "%v", ranks)
	}

	sub, err := topo.SubGroup([]uint32{0, 1, 2})
	require.NoError(t, err)
	sub.Ranks[2].DevicePhyID = sub.Ranks[0].DevicePhyID
	assert.Equal(t, base.ErrPara, base.CodeOf(CheckRankListInfo(sub, CheckOptions{SubGroup: true})))
}

func Test_ConciseErrors(t *testing.T) {
	dupDevice := [][]device{{{0, 0, -1}, {0, 1, -1}}}
	uneven := [][]device{{{0, 0, -1}, {1, 1, -1}}, {{0, 2, -1}}}
	three := [][]device{{{0, 0, -1}, {1, 1, -1}, {2, 2, -1}}}
	for name, text := range map[string]string{
		"duplicated device": genConcise("1.0", dupDevice, nil),
		"uneven servers":    genConcise("1.0", uneven, nil),
		"three devices":     genConcise("1.0", three, nil),
		"bad json":          `{"version": "1.0", "server_count": `,
		"bad count":         `{"version": "1.0", "server_count": "3", "server_list": []}`,
		"bad number":        `{"version": "1.0", "server_count": "x", "server_list": []}`,
		"duplicated server": `{"version": "1.0", "server_count": "2", "server_list": [{"server_id": "a", "device": [{"device_id": "0", "rank_id": "0"}]}, {"server_id": "a", "device": [{"device_id": "0", "rank_id": "1"}]}]}`,
		"duplicated ip":     `{"version": "1.0", "server_count": "1", "server_list": [{"server_id": "a", "device": [{"device_id": "0", "rank_id": "0", "device_ip": "1.1.1.1"}, {"device_id": "1", "rank_id": "1", "device_ip": "1.1.1.1"}]}]}`,
		"mixed family":      `{"version": "1.0", "server_count": "2", "server_list": [{"server_id": "a", "device": [{"device_id": "0", "rank_id": "0", "device_ip": "1.1.1.1"}]}, {"server_id": "b", "device": [{"device_id": "0", "rank_id": "1", "device_ip": "fe80::1"}]}]}`,
	} {
		p := New(Concise, text)
		assert.Equal(t, base.ErrPara, base.CodeOf(p.Init()), name)
	}
}

func Test_ConciseSuperPod(t *testing.T) {
	text := genConcise("1.2", genServers(4, 2, true), map[string][]int{"p0": {0, 1}, "p1": {2, 3}})
	topo, err := Load(text)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), topo.SuperPodNum)
	assert.Equal(t, "p1", topo.Ranks[7].SuperPodID)

	asym := genConcise("1.2", genServers(3, 2, true), map[string][]int{"p0": {0, 1}, "p1": {2}})
	_, err = Load(asym)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))

	noSdid := genConcise("1.2", genServers(2, 2, false), map[string][]int{"p0": {0}, "p1": {1}})
	_, err = Load(noSdid)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))

	servers := genServers(2, 2, true)
	servers[0][1].sdid = 0
	dupSdid := genConcise("1.2", servers, map[string][]int{"p0": {0}, "p1": {1}})
	_, err = Load(dupSdid)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))

	unknown := strings.Replace(text, `"server_list": [{"server_id": "10.0.0.3"}`, `"server_list": [{"server_id": "10.0.0.9"}`, 1)
	_, err = Load(unknown)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
}

func Test_GetClusterInfoWithLocal(t *testing.T) {
	p := New(Concise, genConcise("1.0", genServers(2, 8, false), nil))
	require.NoError(t, p.Init())
	_, local, err := p.GetClusterInfoWithLocal(LocalParams{DevicePhyID: 3, ServerID: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, uint32(11), local.RankID)
	assert.Equal(t, uint32(3), local.LocalRank)

	_, local, err = p.GetClusterInfoWithLocal(LocalParams{DevicePhyID: 3, HostIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), local.RankID)

	_, _, err = p.GetClusterInfoWithLocal(LocalParams{DevicePhyID: 3})
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	_, _, err = p.GetClusterInfoWithLocal(LocalParams{DevicePhyID: 9, ServerID: "10.0.0.1"})
	assert.Equal(t, base.ErrNotFound, base.CodeOf(err))
}

func Test_Heterogeneous(t *testing.T) {
	text := `{
		"version": "1.1",
		"collective_id": "job-1",
		"mode": "tcp",
		"rank_count": "5",
		"node_list": [
			{"node_addr": "10.0.0.1", "ranks": [
				{"rank_id": "0"},
				{"rank_id": "1", "port": "60000"},
				{"rank_id": "2", "device_id": "0"}
			]},
			{"node_addr": "10.0.0.2", "ranks": [
				{"rank_id": "3", "device_id": 0, "rank_ip": "192.168.0.1"},
				{"rank_id": "4", "device_id": 1, "rank_ip": "192.168.0.2"}
			]}
		]
	}`
	kind, err := Detect(text)
	require.NoError(t, err)
	assert.Equal(t, Heterogeneous, kind)
	topo, err := Load(text)
	require.NoError(t, err)
	assert.Equal(t, "job-1", topo.CollectiveID)
	assert.Equal(t, uint32(5), topo.RankNum)
	assert.Equal(t, uint32(3), topo.DeviceNum)
	ports := []uint32{60001, 60000, 60002, 60000, 60001}
	for i, r := range topo.Ranks {
		assert.Equal(t, ports[i], r.HostPort, "rank %d", i)
	}
	assert.True(t, topo.Ranks[0].IsHost())
	assert.False(t, topo.Ranks[2].IsHost())

	for name, bad := range map[string]string{
		"no collective id": `{"version": "1.1", "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0"}]}]}`,
		"bad mode":         `{"version": "1.1", "collective_id": "c", "mode": "udp", "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0"}]}]}`,
		"rdma needs ip":    `{"version": "1.1", "collective_id": "c", "mode": "rdma", "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0", "device_id": "0"}]}]}`,
		"same port":        `{"version": "1.1", "collective_id": "c", "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0", "port": 1}, {"rank_id": "1", "port": 1}]}]}`,
		"same node":        `{"version": "1.1", "collective_id": "c", "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0"}]}, {"node_addr": "10.0.0.1", "ranks": [{"rank_id": "1"}]}]}`,
		"rank count":       `{"version": "1.1", "collective_id": "c", "rank_count": 2, "node_list": [{"node_addr": "10.0.0.1", "ranks": [{"rank_id": "0"}]}]}`,
	} {
		_, err := Load(bad)
		assert.Equal(t, base.ErrPara, base.CodeOf(err), name)
	}
}

func Test_Standard(t *testing.T) {
	text := `{
		"status": "completed",
		"group_count": "1",
		"group_list": [{
			"group_name": "hccl_world_group",
			"device_count": "2",
			"instance_count": "2",
			"instance_list": [
				{"pod_name": "pod-a", "rank_id": "0", "server_id": "10.0.0.1", "devices": [{"device_id": "0", "device_ip": "192.168.0.1"}]},
				{"pod_name": "pod-b", "rank_id": "1", "server_id": "10.0.0.1", "devices": [{"device_id": "1", "device_ip": "192.168.0.2"}]}
			]
		}],
		"server_list": [{"server_id": "10.0.0.1", "host_nic_ip": "reserve", "para_plane_info": [{"name": "eth0", "ip": "10.0.0.1"}]}]
	}`
	kind, err := Detect(text)
	require.NoError(t, err)
	assert.Equal(t, Standard, kind)
	topo, err := Load(text)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), topo.DeviceNum)
	assert.Equal(t, "pod-b", topo.Ranks[1].PodName)
	require.Len(t, topo.Servers, 1)
	assert.Equal(t, "eth0", topo.Servers[0].NetworkInfo[0].Name)

	dupPod := strings.Replace(text, "pod-b", "pod-a", 1)
	_, err = Load(dupPod)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	badCount := strings.Replace(text, `"device_count": "2"`, `"device_count": "4"`, 1)
	_, err = Load(badCount)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
}

func Test_Offline(t *testing.T) {
	text := `{"server_count": "2", "node_list": [
		{"node_id": "n0", "item_list": [{"item_id": "0"}, {"item_id": "1"}]},
		{"node_id": "n1", "item_list": [{"item_id": "0"}, {"item_id": "1"}]}
	]}`
	p := New(Offline, text)
	require.NoError(t, p.Init())
	topo, err := p.GetClusterInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), topo.RankNum)
	assert.Equal(t, "n1", topo.Ranks[2].ServerID)
	assert.Equal(t, int32(1), topo.Ranks[3].DevicePhyID)
}

func Test_RoleTable(t *testing.T) {
	lines := `
	# parameter servers
	server 0 10.0.0.1 9000
	server 1 10.0.0.2 9000 # second
	client 0 10.0.0.1 9001
	`
	info, err := ParseRoleTable(lines)
	require.NoError(t, err)
	require.Len(t, info.Servers, 2)
	require.Len(t, info.Clients, 1)
	assert.Equal(t, "client 0 10.0.0.1:9001", info.Clients[0].String())

	bs, err := info.MarshalJSON()
	require.NoError(t, err)
	again, err := ParseRoleTable(string(bs))
	require.NoError(t, err)
	assert.Equal(t, info, again)

	p := New(RoleTable, lines)
	require.NoError(t, p.Init())
	topo, err := p.GetClusterInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), topo.RankNum)
	assert.Equal(t, uint32(9001), topo.Ranks[2].HostPort)

	for _, bad := range []string{
		"server 0 10.0.0.1",
		"worker 0 10.0.0.1 9000",
		"server 0 10.0.0.1 9000\nserver 0 10.0.0.2 9000",
		"server 1 10.0.0.1 9000",
		"server 0 10.0.0.1 9000\nclient 0 10.0.0.1 9000",
		"client 0 10.0.0.1 9000",
	} {
		_, err := ParseRoleTable(bad)
		assert.Equal(t, base.ErrPara, base.CodeOf(err), bad)
	}
}

func Test_Detect(t *testing.T) {
	_, err := Detect(`{"version": "2.0"}`)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	_, err = Detect(`[`)
	assert.Equal(t, base.ErrPara, base.CodeOf(err))
	k, err := Detect(`{"version": "Standard"}`)
	require.NoError(t, err)
	assert.Equal(t, Standard, k)
	k, err = Detect(`{"version": "1.2"}`)
	require.NoError(t, err)
	assert.Equal(t, Concise, k)
}

func Test_Pools(t *testing.T) {
	p := newPools()
	require.NoError(t, p.Insert(PoolServerID, "a"))
	assert.Equal(t, base.ErrPara, base.CodeOf(p.Insert(PoolServerID, "a")))
	require.NoError(t, p.Insert(PoolPodName, "a"))
	assert.NoError(t, p.Find(PoolServerID, "a"))
	assert.Equal(t, base.ErrPara, base.CodeOf(p.Find(PoolSuperPodID, "a")))
}
