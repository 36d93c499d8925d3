package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/topo"
	"github.com/pkg/errors"
)

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// SelectLevel0 picks the intra-server pattern from the topology.
func SelectLevel0(attr *topo.Attr, n0 int, flat bool) base.AlgLevel0 {
	if n0 <= 1 {
		return base.Level0OneP
	}
	if flat {
		return base.Level0NPSingleRing
	}
	switch attr.DevType {
	case base.Dev910:
		switch {
		case n0 == 8 && attr.IsDiffDeviceModule && !attr.MultiModuleDiffDeviceNum:
			return base.Level0EightPRing
		case n0 == 4 && attr.IsSingleMesh:
			return base.Level0FourPMesh
		case n0 == 2 && attr.IsSingleMesh:
			return base.Level0TwoPMesh
		}
	case base.Dev910B:
		if attr.IsSingleMesh {
			return base.Level0NPMesh
		}
	case base.Dev910_93:
		if n0 > 2 {
			return base.Level0NPDoubleRing
		}
	}
	return base.Level0NPSingleRing
}

// SelectLevel1 picks the inter-server pattern. A configured choice wins;
// otherwise newer generations use NHR, and older ones halving-doubling for
// power-of-two server counts or stages up to RingHDThreshold, ring above.
func SelectLevel1(cfg base.AlgoConfig, prof config.HardwareProfile, stageSize uint64, n1 int) base.AlgLevel1 {
	if cfg.HasLevel1 {
		return cfg.Level1
	}
	if n1 <= 1 {
		return base.Level1Whole
	}
	switch prof.DevType {
	case base.Dev910B, base.Dev910_93:
		return base.Level1NHR
	}
	if isPowerOfTwo(n1) || stageSize <= prof.RingHDThreshold {
		return base.Level1HD
	}
	return base.Level1Ring
}

// SelectLevel2 picks the inter-superpod pattern.
func SelectLevel2(cfg base.AlgoConfig, n2 int) base.AlgLevel2 {
	if cfg.HasLevel2 {
		return cfg.Level2
	}
	if isPowerOfTwo(n2) {
		return base.Level2HD
	}
	return base.Level2Ring
}

// level1Algorithm maps the level-1 choice onto a schedule. NHR turns into
// its one shot variant for small all-reduce stages when no level-2 stage
// follows and the result need not be deterministic.
func level1Algorithm(a base.AlgLevel1, op base.CollType, stageSize uint64, prof config.HardwareProfile, hasLevel2, deterministic bool) (Algorithm, error) {
	switch a {
	case base.Level1Whole, base.Level1Ring:
		return Ring{}, nil
	case base.Level1HD:
		return RHD{}, nil
	case base.Level1NHR:
		if op == base.AllReduce && stageSize <= prof.NHRSmallSize && !hasLevel2 && !deterministic {
			return NHROneShot{}, nil
		}
		return NHR{}, nil
	case base.Level1NHRV1:
		return NHRV1{}, nil
	case base.Level1NB:
		return NB{}, nil
	case base.Level1Fullmesh:
		return Mesh{}, nil
	}
	return nil, errors.Wrapf(base.ErrNotSupport, "level1 algorithm %s", a)
}

func level2Algorithm(a base.AlgLevel2) (Algorithm, error) {
	switch a {
	case base.Level2Ring:
		return Ring{}, nil
	case base.Level2HD:
		return RHD{}, nil
	case base.Level2NHR:
		return NHR{}, nil
	case base.Level2NB:
		return NB{}, nil
	}
	return nil, errors.Wrapf(base.ErrNotSupport, "level2 algorithm %s", a)
}

// ringFamily names the executor variant of a level-0 pattern.
func ringFamily(level0 base.AlgLevel0) string {
	switch {
	case level0.IsMesh():
		return "Mesh"
	case level0 == base.Level0NPDoubleRing:
		return "DoubleRing"
	}
	return "Ring"
}

// executorName picks the registered executor of an operation.
func executorName(op base.CollType, level0 base.AlgLevel0, rankSize uint32) (string, error) {
	switch op {
	case base.AllReduce:
		if rankSize == 1 {
			return "AllReduceSingleRankExecutor", nil
		}
		return "AllReduce" + ringFamily(level0) + "Executor", nil
	case base.AllGather:
		return "AllGather" + ringFamily(level0) + "Executor", nil
	case base.ReduceScatter:
		return "ReduceScatter" + ringFamily(level0) + "Executor", nil
	case base.Broadcast:
		if level0.IsMesh() {
			return "BroadcastMeshExecutor", nil
		}
		return "BroadcastRingExecutor", nil
	case base.Reduce:
		return "ReduceRingExecutor", nil
	case base.Scatter:
		return "ScatterRingExecutor", nil
	case base.Gather:
		return "GatherRingExecutor", nil
	case base.Send:
		return "SendExecutor", nil
	case base.Receive:
		return "ReceiveExecutor", nil
	case base.AllToAll, base.AllToAllV, base.AllToAllVC:
		return "AllToAllPairwiseExecutor", nil
	case base.BatchSendRecv:
		return "BatchSendRecvExecutor", nil
	}
	return "", errors.Wrapf(base.ErrNotSupport, "collective %s", op)
}
