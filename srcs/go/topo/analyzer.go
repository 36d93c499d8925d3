// Package topo answers the topology questions the planner asks, combining
// the rank topology with link queries to the device runtime.
package topo

import (
	"sort"

	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/plan/graph"
	"github.com/pkg/errors"
)

// Analyzer is bound to one rank of one communicator.
type Analyzer struct {
	topo    *plan.RankTopology
	self    plan.RankEntry
	adapter hal.Adapter
	devType base.DevType

	linkInfo *LinkInfo
}

func New(t *plan.RankTopology, rank uint32, adapter hal.Adapter) (*Analyzer, error) {
	self, ok := t.Ranks.Rank(rank)
	if !ok {
		return nil, errors.Wrapf(base.ErrPara, "rank %d not in topology of %d ranks", rank, t.RankNum)
	}
	if adapter == nil {
		return nil, errors.Wrap(base.ErrPtr, "nil device adapter")
	}
	devType, err := adapter.DeviceType()
	if err != nil {
		return nil, err
	}
	return &Analyzer{topo: t, self: self, adapter: adapter, devType: devType}, nil
}

func (a *Analyzer) Topology() *plan.RankTopology { return a.topo }

func (a *Analyzer) Self() plan.RankEntry { return a.self }

func (a *Analyzer) DevType() base.DevType { return a.devType }

func (a *Analyzer) single() bool { return len(a.topo.Ranks) == 1 }

// IsTightlyCoupled reports whether a link belongs to an intra-server mesh.
func IsTightlyCoupled(t base.LinkType) bool {
	switch t {
	case base.LinkOnchip, base.LinkHCCS, base.LinkHCCSSW, base.LinkSIO:
		return true
	}
	return false
}

// IsAllRankSamePlane is true iff every rank uses the same device physical id.
func (a *Analyzer) IsAllRankSamePlane() bool {
	if a.single() {
		return true
	}
	first := a.topo.Ranks[0].DevicePhyID
	for _, r := range a.topo.Ranks[1:] {
		if r.DevicePhyID != first {
			return false
		}
	}
	return true
}

// localDevices are the device physical ids of this server, ascending.
func (a *Analyzer) localDevices() []int32 {
	var ids []int32
	for _, r := range a.topo.Level0Ranks(a.self.RankID) {
		if !r.IsHost() {
			ids = append(ids, r.DevicePhyID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsSingleMeshAggregation is true iff the whole communicator sits on this
// server and every pair of its devices is tightly coupled.
func (a *Analyzer) IsSingleMeshAggregation() (bool, error) {
	if a.single() {
		return true, nil
	}
	if a.topo.ServerNum != 1 {
		return false, nil
	}
	local := a.localDevices()
	if uint32(len(local)) != a.topo.DeviceNum {
		return false, nil
	}
	info, err := a.GetServerInnerLinkInfo()
	if err != nil {
		return false, err
	}
	return info.Counts[base.LinkPCIe] == 0, nil
}

// GetDeviceNumInPerMeshAggregation counts the devices of this server that
// phyID reaches over tightly coupled links, itself included.
func (a *Analyzer) GetDeviceNumInPerMeshAggregation(phyID int32) (uint32, error) {
	if a.single() {
		return 1, nil
	}
	local := a.localDevices()
	var found bool
	for _, d := range local {
		if d == phyID {
			found = true
		}
	}
	if !found {
		return 0, errors.Wrapf(base.ErrPara, "device %d is not on server %s", phyID, a.self.ServerID)
	}
	n := uint32(1)
	for _, d := range local {
		if d == phyID {
			continue
		}
		t, err := a.adapter.PairLinkType(phyID, d)
		if err != nil {
			return 0, err
		}
		if IsTightlyCoupled(t) {
			n++
		}
	}
	return n, nil
}

// LinkInfo classifies the device pairs of one server. Vertices of the
// adjacency graphs are positions in Devices.
type LinkInfo struct {
	Devices   []int32
	Adjacency map[base.LinkType]*graph.Graph
	Counts    map[base.LinkType]int
}

// Index returns the position of a device in Devices.
func (l *LinkInfo) Index(phyID int32) (int, bool) {
	for i, d := range l.Devices {
		if d == phyID {
			return i, true
		}
	}
	return -1, false
}

var innerLinkTypes = []base.LinkType{base.LinkHCCS, base.LinkPCIe, base.LinkSIO, base.LinkHCCSSW}

// GetServerInnerLinkInfo classifies every pair of devices on this server as
// HCCS, PCIe, SIO or switched HCCS. Counts are per unordered pair. The
// result is cached.
func (a *Analyzer) GetServerInnerLinkInfo() (*LinkInfo, error) {
	if a.linkInfo != nil {
		return a.linkInfo, nil
	}
	local := a.localDevices()
	info := &LinkInfo{
		Devices:   local,
		Adjacency: make(map[base.LinkType]*graph.Graph),
		Counts:    make(map[base.LinkType]int),
	}
	for _, t := range innerLinkTypes {
		info.Adjacency[t] = graph.New(len(local))
	}
	if a.single() {
		a.linkInfo = info
		return info, nil
	}
	for i := range local {
		for j := i + 1; j < len(local); j++ {
			t, err := a.adapter.PairLinkType(local[i], local[j])
			if err != nil {
				return nil, err
			}
			g, ok := info.Adjacency[t]
			if !ok {
				return nil, errors.Wrapf(base.ErrInternal, "device %d and %d are linked by %s", local[i], local[j], t)
			}
			g.AddUndirected(i, j)
			info.Counts[t]++
		}
	}
	a.linkInfo = info
	return info, nil
}
