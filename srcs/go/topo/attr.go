package topo

import (
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
)

// Attr is the summary of the topology the planner selects algorithms on.
type Attr struct {
	DevType     base.DevType
	NicDeploy   base.NicDeploy
	UserRank    uint32
	RankSize    uint32
	DevicePhyID int32
	ServerNum   uint32
	SuperPodNum uint32

	DeviceNumPerServer      uint32
	DeviceNumPerAggregation uint32
	// ModuleNum is the number of mesh aggregations on a server.
	ModuleNum uint32
	// IsDiffDeviceModule is set when the devices of a 910 server span both
	// of its HCCS modules.
	IsDiffDeviceModule bool
	// MultiModuleDiffDeviceNum is set when those modules hold different
	// numbers of devices.
	MultiModuleDiffDeviceNum bool
	// NicList are the local device ids whose NIC joins inter-server traffic.
	NicList []int32

	IsSingleMesh bool
	IsSamePlane  bool

	Level0 plan.RankList
	Level1 plan.RankList
	Level2 plan.RankList
}

func (a Attr) String() string {
	return fmt.Sprintf("attr{dev=%s,rank=%d/%d,servers=%d,pods=%d,perServer=%d,perAgg=%d,modules=%d,nics=%v}",
		a.DevType, a.UserRank, a.RankSize, a.ServerNum, a.SuperPodNum, a.DeviceNumPerServer,
		a.DeviceNumPerAggregation, a.ModuleNum, a.NicList)
}

// HasNic reports whether phyID is in the NIC list.
func (a Attr) HasNic(phyID int32) bool {
	for _, d := range a.NicList {
		if d == phyID {
			return true
		}
	}
	return false
}

// Attr computes the attributes of the analyzer's rank.
func (a *Analyzer) Attr() (*Attr, error) {
	t := a.topo
	attr := &Attr{
		DevType:     a.devType,
		NicDeploy:   t.NicDeploy,
		UserRank:    a.self.RankID,
		RankSize:    t.RankNum,
		DevicePhyID: a.self.DevicePhyID,
		ServerNum:   t.ServerNum,
		SuperPodNum: t.SuperPodNum,
		IsSamePlane: a.IsAllRankSamePlane(),
		Level0:      t.Level0Ranks(a.self.RankID),
		Level1:      t.Level1Ranks(a.self.RankID),
		Level2:      t.Level2Ranks(a.self.RankID),
	}
	local := a.localDevices()
	attr.DeviceNumPerServer = uint32(len(local))
	if attr.DeviceNumPerServer == 0 {
		attr.DeviceNumPerServer = uint32(len(attr.Level0))
	}
	var err error
	if a.self.IsHost() || a.single() {
		attr.DeviceNumPerAggregation = 1
		if len(local) > 1 {
			attr.DeviceNumPerAggregation = uint32(len(local))
		}
	} else if attr.DeviceNumPerAggregation, err = a.GetDeviceNumInPerMeshAggregation(a.self.DevicePhyID); err != nil {
		return nil, err
	}
	if attr.IsSingleMesh, err = a.IsSingleMeshAggregation(); err != nil {
		return nil, err
	}
	attr.ModuleNum = 1
	if attr.DeviceNumPerAggregation > 0 && attr.DeviceNumPerServer > attr.DeviceNumPerAggregation {
		attr.ModuleNum = (attr.DeviceNumPerServer + attr.DeviceNumPerAggregation - 1) / attr.DeviceNumPerAggregation
	}
	if a.devType == base.Dev910 {
		var low, high int
		for _, d := range local {
			if d < 4 {
				low++
			} else {
				high++
			}
		}
		attr.IsDiffDeviceModule = low > 0 && high > 0
		attr.MultiModuleDiffDeviceNum = attr.IsDiffDeviceModule && low != high
	}
	for _, r := range attr.Level0 {
		if r.IsHost() {
			continue
		}
		if t.NicDeploy == base.NicDeployHost || len(r.DeviceIPs) > 0 {
			attr.NicList = append(attr.NicList, r.DevicePhyID)
		}
	}
	return attr, nil
}
