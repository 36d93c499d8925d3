package coll

import (
	"context"
	"testing"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allReduceParam(count uint64, op base.ReduceOp) func(uint32) *OpParam {
	return func(uint32) *OpParam {
		return &OpParam{Op: base.AllReduce, Tag: "ar", Input: mem(count), Output: mem(count), Count: count, DataType: base.F32, ReduceOp: op}
	}
}

func fillValues(rank uint32, in []float32) {
	for i := range in {
		in[i] = value(rank, i)
	}
}

func profileWith(dev base.DevType, f func(p *config.HardwareProfile)) *config.HardwareProfile {
	p := config.ProfileOf(dev)
	f(&p)
	return &p
}

func Test_AllReduce(t *testing.T) {
	tests := []struct {
		name     string
		setup    testSetup
		count    uint64
		op       base.ReduceOp
		executor string
		streams  int
		check    func(t *testing.T, pl *Plan)
	}{
		{
			name:     "mesh one shot",
			setup:    testSetup{cluster: testCluster{serversPerPod: 2, devices: 4, dev: base.Dev910B, singleMesh: true}, ccl: config.MB},
			count:    1000,
			executor: "AllReduceMeshExecutor",
			streams:  3,
			check: func(t *testing.T, pl *Plan) {
				assert.Equal(t, base.Level1NHR, pl.Alg.Level1)
				assert.Equal(t, base.PatternNHROneShot, pl.Transports[1].Pattern)
			},
		},
		{
			name: "8P ring with NIC gate",
			setup: testSetup{
				cluster: testCluster{serversPerPod: 2, devices: 8, dev: base.Dev910, diffModule: true, nics: []int32{0, 2, 4, 6}},
				ccl:     4 * 1024,
			},
			count:    3000,
			executor: "AllReduceRingExecutor",
			streams:  4,
			check: func(t *testing.T, pl *Plan) {
				assert.Equal(t, base.Level0EightPRing, pl.Alg.Level0)
				assert.Equal(t, 3, pl.Loops)
			},
		},
		{
			name: "SDMA and RDMA lanes",
			setup: testSetup{
				cluster: testCluster{serversPerPod: 3, devices: 2, dev: base.Dev910_93},
				profile: profileWith(base.Dev910_93, func(p *config.HardwareProfile) {
					p.SplitThreshold = 1024
					p.Alignment = 4
					p.NHRSmallSize = 0
				}),
				runtime: &config.Runtime{SdmaRdmaConcurrent: true, BufferSizeMB: 200},
				ccl:     config.MB,
			},
			count:    5000,
			executor: "AllReduceRingExecutor",
			streams:  2,
			check: func(t *testing.T, pl *Plan) {
				var sdma, rdma int
				for _, ts := range pl.Streams {
					for _, task := range ts {
						if task.Level == 1 && task.Kind == TaskSend {
							if task.Lane == LaneSDMA {
								sdma++
							} else {
								rdma++
							}
						}
					}
				}
				assert.NotZero(t, sdma)
				assert.NotZero(t, rdma)
			},
		},
		{
			name:     "super pods in small chunks",
			setup:    testSetup{cluster: testCluster{pods: 2, serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: 256},
			count:    999,
			executor: "AllReduceRingExecutor",
			streams:  1,
			check: func(t *testing.T, pl *Plan) {
				assert.Equal(t, 16, pl.Loops)
				require.Len(t, pl.Transports, 3)
				assert.Equal(t, base.PatternHalvingDoubling, pl.Transports[2].Pattern)
			},
		},
		{
			name:     "max through scratch",
			setup:    testSetup{cluster: testCluster{serversPerPod: 3, devices: 3, dev: base.Dev910}, ccl: config.MB},
			count:    400,
			op:       base.MAX,
			executor: "AllReduceRingExecutor",
			streams:  1,
			check: func(t *testing.T, pl *Plan) {
				assert.NotZero(t, pl.Scratch)
				assert.Equal(t, MemScratch, pl.Transports[0].Mem)
				var reduces int
				for _, task := range pl.Streams[0] {
					if task.Kind == TaskReduce {
						reduces++
					}
					if task.Kind == TaskRecv {
						assert.False(t, task.Reduce)
					}
				}
				assert.NotZero(t, reduces)
			},
		},
		{
			name: "huge data in place",
			setup: testSetup{
				cluster: testCluster{serversPerPod: 2, devices: 2, dev: base.Dev910},
				profile: profileWith(base.Dev910, func(p *config.HardwareProfile) { p.RDMASendMaxSize = 64 }),
				ccl:     config.MB,
			},
			count:    100,
			executor: "AllReduceRingExecutor",
			streams:  1,
			check: func(t *testing.T, pl *Plan) {
				assert.True(t, pl.Huge)
				assert.Equal(t, MemUserOutput, pl.Transports[0].Mem)
			},
		},
		{
			name: "NB across servers",
			setup: testSetup{
				cluster: testCluster{serversPerPod: 5, devices: 1, dev: base.Dev910},
				runtime: &config.Runtime{Algo: base.AlgoConfig{Level1: base.Level1NB, HasLevel1: true}, BufferSizeMB: 200},
				ccl:     config.MB,
			},
			count:    77,
			executor: "AllReduceRingExecutor",
			streams:  1,
			check: func(t *testing.T, pl *Plan) {
				assert.Equal(t, base.Level0OneP, pl.Alg.Level0)
				assert.Equal(t, base.PatternNB, pl.Transports[0].Pattern)
			},
		},
		{
			name: "NHR v1 across servers",
			setup: testSetup{
				cluster: testCluster{serversPerPod: 6, devices: 2, dev: base.Dev910},
				runtime: &config.Runtime{Algo: base.AlgoConfig{Level1: base.Level1NHRV1, HasLevel1: true}, BufferSizeMB: 200},
				ccl:     config.MB,
			},
			count:    1234,
			executor: "AllReduceRingExecutor",
			streams:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranks, plans := runCluster(t, tt.setup, allReduceParam(tt.count, tt.op), fillValues)
			n := float32(len(ranks))
			for g, r := range ranks {
				out := r.mems[MemUserOutput]
				for i := 0; i < int(tt.count); i++ {
					want := n * (n + 1) / 2 * float32(i%7+1)
					if tt.op == base.MAX {
						want = n * float32(i%7+1)
					}
					require.Equal(t, want, out[i], "rank %d element %d", g, i)
				}
			}
			pl := plans[0]
			assert.Equal(t, tt.executor, pl.Executor)
			assert.Len(t, pl.Streams, tt.streams)
			if tt.check != nil {
				tt.check(t, pl)
			}
		})
	}
}

func Test_ReduceScatter(t *testing.T) {
	const count = 50
	s := testSetup{cluster: testCluster{serversPerPod: 2, devices: 4, dev: base.Dev910B, singleMesh: true}, ccl: 512}
	n := uint64(s.cluster.size())
	param := func(uint32) *OpParam {
		return &OpParam{Op: base.ReduceScatter, Tag: "rs", Input: mem(count * n), Output: mem(count), Count: count, DataType: base.F32, ReduceOp: base.SUM}
	}
	ranks, plans := runCluster(t, s, param, fillValues)
	assert.Equal(t, "ReduceScatterMeshExecutor", plans[0].Executor)
	assert.Equal(t, 4, plans[0].Loops)
	sum := float32(n*(n+1)) / 2
	for g, r := range ranks {
		for i := 0; i < count; i++ {
			j := g*count + i
			require.Equal(t, sum*float32(j%7+1), r.mems[MemUserOutput][i], "rank %d element %d", g, i)
		}
	}
}

func Test_AllGather(t *testing.T) {
	const count = 30
	s := testSetup{cluster: testCluster{pods: 2, serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: 256}
	n := uint64(s.cluster.size())
	param := func(uint32) *OpParam {
		return &OpParam{Op: base.AllGather, Tag: "ag", Input: mem(count), Output: mem(count * n), Count: count, DataType: base.F32}
	}
	ranks, plans := runCluster(t, s, param, fillValues)
	assert.Equal(t, "AllGatherRingExecutor", plans[0].Executor)
	for g, r := range ranks {
		for src := uint32(0); src < uint32(n); src++ {
			for i := 0; i < count; i++ {
				require.Equal(t, value(src, i), r.mems[MemUserOutput][int(src)*count+i], "rank %d from %d element %d", g, src, i)
			}
		}
	}
}

func Test_RootedCollectives(t *testing.T) {
	const count = 37
	s := testSetup{cluster: testCluster{pods: 2, serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: 128}
	n := uint32(s.cluster.size())

	t.Run("broadcast", func(t *testing.T) {
		const root = 5
		param := func(uint32) *OpParam {
			return &OpParam{Op: base.Broadcast, Tag: "bc", Input: mem(count), Count: count, DataType: base.F32, Root: root}
		}
		fill := func(rank uint32, in []float32) {
			if rank == root {
				fillValues(rank, in)
			}
		}
		ranks, _ := runCluster(t, s, param, fill)
		for g, r := range ranks {
			for i := 0; i < count; i++ {
				require.Equal(t, value(root, i), r.mems[MemUserInput][i], "rank %d element %d", g, i)
			}
		}
	})

	t.Run("reduce", func(t *testing.T) {
		const root = 3
		param := func(rank uint32) *OpParam {
			p := &OpParam{Op: base.Reduce, Tag: "rd", Input: mem(count), Count: count, DataType: base.F32, ReduceOp: base.SUM, Root: root}
			if rank == root {
				p.Output = mem(count)
			}
			return p
		}
		ranks, _ := runCluster(t, s, param, fillValues)
		sum := float32(n*(n+1)) / 2
		for i := 0; i < count; i++ {
			require.Equal(t, sum*float32(i%7+1), ranks[root].mems[MemUserOutput][i], "element %d", i)
		}
	})

	t.Run("scatter", func(t *testing.T) {
		const root = 2
		param := func(rank uint32) *OpParam {
			p := &OpParam{Op: base.Scatter, Tag: "sc", Output: mem(count), Count: count, DataType: base.F32, Root: root}
			if rank == root {
				p.Input = mem(count * uint64(n))
			}
			return p
		}
		ranks, _ := runCluster(t, s, param, fillValues)
		for g, r := range ranks {
			for i := 0; i < count; i++ {
				require.Equal(t, value(root, g*count+i), r.mems[MemUserOutput][i], "rank %d element %d", g, i)
			}
		}
	})

	t.Run("gather", func(t *testing.T) {
		const root = 6
		param := func(rank uint32) *OpParam {
			p := &OpParam{Op: base.Gather, Tag: "ga", Input: mem(count), Count: count, DataType: base.F32, Root: root}
			if rank == root {
				p.Output = mem(count * uint64(n))
			}
			return p
		}
		ranks, _ := runCluster(t, s, param, fillValues)
		for src := uint32(0); src < n; src++ {
			for i := 0; i < count; i++ {
				require.Equal(t, value(src, i), ranks[root].mems[MemUserOutput][int(src)*count+i], "from %d element %d", src, i)
			}
		}
	})
}

func Test_AllToAll(t *testing.T) {
	s := testSetup{cluster: testCluster{serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: config.MB}
	n := s.cluster.size()

	t.Run("equal counts", func(t *testing.T) {
		const count = 3
		param := func(uint32) *OpParam {
			return &OpParam{Op: base.AllToAll, Tag: "a2a", Input: mem(count * uint64(n)), Output: mem(count * uint64(n)), Count: count, DataType: base.F32}
		}
		fill := func(rank uint32, in []float32) {
			for i := range in {
				in[i] = float32(100*int(rank) + i/count)
			}
		}
		ranks, plans := runCluster(t, s, param, fill)
		assert.Equal(t, "AllToAllPairwiseExecutor", plans[0].Executor)
		for me, r := range ranks {
			for i := 0; i < count*n; i++ {
				require.Equal(t, float32(100*(i/count)+me), r.mems[MemUserOutput][i])
			}
		}
	})

	t.Run("reversed displacements", func(t *testing.T) {
		const count = 2
		counts := make([]uint64, n)
		sendDispls := make([]uint64, n)
		recvDispls := make([]uint64, n)
		for i := 0; i < n; i++ {
			counts[i] = count
			sendDispls[i] = uint64(i) * count
			recvDispls[i] = uint64(n-1-i) * count
		}
		param := func(uint32) *OpParam {
			return &OpParam{
				Op: base.AllToAllV, Tag: "a2av", Input: mem(count * uint64(n)), Output: mem(count * uint64(n)), DataType: base.F32,
				SendCounts: counts, SendDispls: sendDispls, RecvCounts: counts, RecvDispls: recvDispls,
			}
		}
		fill := func(rank uint32, in []float32) {
			for i := range in {
				in[i] = float32(100*int(rank) + i/count)
			}
		}
		ranks, _ := runCluster(t, s, param, fill)
		for me, r := range ranks {
			for from := 0; from < n; from++ {
				for k := 0; k < count; k++ {
					require.Equal(t, float32(100*from+me), r.mems[MemUserOutput][int(recvDispls[from])+k])
				}
			}
		}
	})

	t.Run("count matrix", func(t *testing.T) {
		matrix := make([]uint64, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				matrix[i*n+j] = uint64((i + j) % 3)
			}
		}
		param := func(uint32) *OpParam {
			return &OpParam{Op: base.AllToAllVC, Tag: "a2avc", Input: mem(64), Output: mem(64), DataType: base.F32, SendCountMatrix: matrix}
		}
		fill := func(rank uint32, in []float32) {
			var off int
			for j := 0; j < n; j++ {
				for k := uint64(0); k < matrix[int(rank)*n+j]; k++ {
					in[off] = float32(100*int(rank) + j)
					off++
				}
			}
		}
		ranks, _ := runCluster(t, s, param, fill)
		for me, r := range ranks {
			var off int
			for i := 0; i < n; i++ {
				for k := uint64(0); k < matrix[i*n+me]; k++ {
					require.Equal(t, float32(100*i+me), r.mems[MemUserOutput][off])
					off++
				}
			}
		}
	})
}

func planOn(t *testing.T, s testSetup, rank uint32, p *OpParam) (*Plan, error) {
	tp := s.cluster.topology(t)
	return s.planner(t, tp, rank).Plan(p)
}

func Test_DoubleRingSignalWait(t *testing.T) {
	s := testSetup{cluster: testCluster{serversPerPod: 1, devices: 4, dev: base.Dev910_93}, ccl: config.MB}
	pl, err := planOn(t, s, 1, allReduceParam(4096, base.SUM)(1))
	require.NoError(t, err)
	assert.Equal(t, "AllReduceDoubleRingExecutor", pl.Executor)
	require.Len(t, pl.Streams, 2)

	main, aux := pl.Streams[0], pl.Streams[1]
	require.Equal(t, TaskWait, aux[0].Kind, "the auxiliary ring starts on a wait")
	require.Equal(t, TaskSignal, aux[len(aux)-1].Kind, "the auxiliary ring ends on a signal")
	start, done := aux[0].Notify, aux[len(aux)-1].Notify
	posted, waited := -1, -1
	for i, task := range main {
		if task.Kind == TaskSignal && task.Notify == start {
			posted = i
		}
		if task.Kind == TaskWait && task.Notify == done {
			waited = i
		}
	}
	require.NotEqual(t, -1, posted)
	require.NotEqual(t, -1, waited)
	assert.Less(t, posted, waited)

	// both rings move data
	var auxSends int
	for _, task := range aux {
		if task.Kind == TaskSend {
			auxSends++
		}
	}
	assert.NotZero(t, auxSends)
	assert.NoError(t, RunStreams(context.Background(), NewRecorder(), pl))
}

func Test_NicGateSkipsInterServer(t *testing.T) {
	s := testSetup{
		cluster: testCluster{serversPerPod: 2, devices: 8, dev: base.Dev910, diffModule: true, nics: []int32{0, 4}},
		ccl:     config.MB,
	}
	interServer := func(pl *Plan) int {
		var n int
		for _, ts := range pl.Streams {
			for _, task := range ts {
				if task.Level == 1 && (task.Kind == TaskSend || task.Kind == TaskRecv) {
					n++
				}
			}
		}
		return n
	}
	withNic, err := planOn(t, s, 4, allReduceParam(1024, base.SUM)(4))
	require.NoError(t, err)
	assert.NotZero(t, interServer(withNic))

	without, err := planOn(t, s, 3, allReduceParam(1024, base.SUM)(3))
	require.NoError(t, err)
	assert.Zero(t, interServer(without))
}

func Test_RetryFlagsPassThrough(t *testing.T) {
	s := testSetup{
		cluster: testCluster{serversPerPod: 2, devices: 2, dev: base.Dev910},
		runtime: &config.Runtime{Retry: config.RetryPolicy{Inter: true}, BufferSizeMB: 200},
		ccl:     config.MB,
	}
	pl, err := planOn(t, s, 0, allReduceParam(256, base.SUM)(0))
	require.NoError(t, err)
	var levels [3]int
	for _, task := range pl.Streams[0] {
		if task.Kind != TaskSend {
			continue
		}
		levels[task.Level]++
		assert.Equal(t, task.Level == 1, task.Retry, "%s", task)
	}
	assert.NotZero(t, levels[0])
	assert.NotZero(t, levels[1])
}

func Test_SingleRank(t *testing.T) {
	s := testSetup{cluster: testCluster{serversPerPod: 1, devices: 1, dev: base.Dev910}, ccl: config.MB}
	p := allReduceParam(10, base.SUM)(0)
	p.Output = hal.DeviceMem{Addr: 0x2000, Size: 40}
	pl, err := planOn(t, s, 0, p)
	require.NoError(t, err)
	assert.Equal(t, "AllReduceSingleRankExecutor", pl.Executor)
	require.Len(t, pl.Streams[0], 1)
	assert.Equal(t, TaskCopy, pl.Streams[0][0].Kind)
	assert.Empty(t, pl.Transports)
}

func Test_BatchSendRecv(t *testing.T) {
	s := testSetup{cluster: testCluster{serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: config.MB}
	buf := hal.DeviceMem{Addr: 0x3000, Size: 1024}
	p := &OpParam{Op: base.BatchSendRecv, Tag: "b", Items: []SendRecvItem{
		{Send: true, Peer: 0, Buf: buf, Count: 4, DataType: base.F32},
		{Send: true, Peer: 2, Buf: buf, Count: 4, DataType: base.F32},
		{Peer: 0, Buf: buf, Count: 8, DataType: base.F16},
		{Peer: 2, Buf: buf, Count: 4, DataType: base.F32},
	}}
	pl, err := planOn(t, s, 1, p)
	require.NoError(t, err)
	require.Len(t, pl.Streams, 2)
	var sendPeers, recvPeers []uint32
	for _, task := range pl.Streams[0] {
		if task.Kind == TaskSend {
			sendPeers = append(sendPeers, task.Peer)
		}
	}
	for _, task := range pl.Streams[1] {
		if task.Kind == TaskRecv {
			recvPeers = append(recvPeers, task.Peer)
			assert.Equal(t, uint64(16), task.Size())
		}
	}
	assert.Equal(t, []uint32{2, 0}, sendPeers)
	assert.Equal(t, []uint32{0, 2}, recvPeers)
	assert.Equal(t, LaneRDMA, pl.Streams[0][1].Lane)
}

func Test_SendChunks(t *testing.T) {
	s := testSetup{
		cluster: testCluster{serversPerPod: 1, devices: 2, dev: base.Dev910},
		profile: profileWith(base.Dev910, func(p *config.HardwareProfile) { p.RDMASendMaxSize = 100 }),
		ccl:     config.MB,
	}
	p := &OpParam{Op: base.Send, Tag: "s", Input: mem(60), Count: 60, DataType: base.F32, Peer: 1}
	pl, err := planOn(t, s, 0, p)
	require.NoError(t, err)
	require.Len(t, pl.Streams[0], 3)
	assert.Equal(t, base.Slice{Offset: 200, Size: 40}, pl.Streams[0][2].Slices[0])
	assert.Equal(t, LaneSDMA, pl.Streams[0][0].Lane)
}

func Test_InvalidParams(t *testing.T) {
	s := testSetup{cluster: testCluster{serversPerPod: 2, devices: 2, dev: base.Dev910}, ccl: config.MB}
	buf := mem(16)
	tests := []struct {
		name string
		p    *OpParam
		code base.Code
	}{
		{"nil param", nil, base.ErrPtr},
		{"nil input", &OpParam{Op: base.AllReduce, Output: buf, Count: 4, DataType: base.F32}, base.ErrPtr},
		{"short output", &OpParam{Op: base.AllReduce, Input: buf, Output: mem(2), Count: 4, DataType: base.F32}, base.ErrPara},
		{"unsupported reduce", &OpParam{Op: base.AllReduce, Input: buf, Output: buf, Count: 4, DataType: base.I64}, base.ErrNotSupport},
		{"too many elements", &OpParam{Op: base.AllReduce, Input: buf, Output: buf, Count: 1 << 43, DataType: base.F32}, base.ErrPara},
		{"bad data type", &OpParam{Op: base.AllGather, Input: buf, Output: buf, Count: 1, DataType: base.DataType(99)}, base.ErrPara},
		{"root out of range", &OpParam{Op: base.Broadcast, Input: buf, Count: 4, DataType: base.F32, Root: 4}, base.ErrPara},
		{"send to self", &OpParam{Op: base.Send, Input: buf, Count: 4, DataType: base.F32, Peer: 0}, base.ErrPara},
		{"short counts", &OpParam{Op: base.AllToAllV, Input: buf, Output: buf, DataType: base.F32, SendCounts: []uint64{1}}, base.ErrPara},
		{"duplicated batch item", &OpParam{Op: base.BatchSendRecv, Items: []SendRecvItem{
			{Send: true, Peer: 1, Buf: buf, Count: 1, DataType: base.F32},
			{Send: true, Peer: 1, Buf: buf, Count: 1, DataType: base.F32},
		}}, base.ErrPara},
		{"unknown collective", &OpParam{Op: base.CollType(42)}, base.ErrNotSupport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planOn(t, s, 0, tt.p)
			require.Error(t, err)
			assert.Equal(t, tt.code, base.CodeOf(err), "%v", err)
		})
	}
}
