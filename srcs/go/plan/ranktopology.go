package plan

import (
	"fmt"
	"sort"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// RankTopology is the normalized view of one collective domain.
// It is built by a parser, frozen once validated, and never mutated after;
// SubGroup carves out a new independent topology.
type RankTopology struct {
	Version      string
	CollectiveID string
	Mode         string
	NicDeploy    base.NicDeploy

	DeviceNum   uint32
	ServerNum   uint32
	SuperPodNum uint32
	RankNum     uint32

	Ranks   RankList
	Servers []ServerEntry

	frozen bool
}

// SuperPod groups the servers sharing a super pod id, in order of first appearance.
type SuperPod struct {
	ID      string
	Servers []string
}

var errFrozen = errors.Wrap(base.ErrInternal, "rank topology is frozen")

func (t *RankTopology) Freeze() { t.frozen = true }

func (t *RankTopology) Frozen() bool { return t.frozen }

func (t *RankTopology) AddRank(r RankEntry) error {
	if t.frozen {
		return errFrozen
	}
	t.Ranks = append(t.Ranks, r)
	return nil
}

func (t *RankTopology) AddServer(s ServerEntry) error {
	if t.frozen {
		return errFrozen
	}
	t.Servers = append(t.Servers, s)
	return nil
}

// SortRanks orders the rank list by rank id.
func (t *RankTopology) SortRanks() error {
	if t.frozen {
		return errFrozen
	}
	sort.SliceStable(t.Ranks, func(i, j int) bool { return t.Ranks[i].RankID < t.Ranks[j].RankID })
	return nil
}

// Recount recomputes the aggregate counters from the rank list.
func (t *RankTopology) Recount() error {
	if t.frozen {
		return errFrozen
	}
	t.RankNum = uint32(len(t.Ranks))
	var devs uint32
	for _, r := range t.Ranks {
		if !r.IsHost() {
			devs++
		}
	}
	t.DeviceNum = devs
	t.ServerNum = uint32(len(t.Ranks.ServerIDs()))
	t.SuperPodNum = uint32(len(t.SuperPods()))
	return nil
}

// AssignIndices fills ServerIdx, LocalRank and SuperPodIdx from the rank order.
func (t *RankTopology) AssignIndices() error {
	if t.frozen {
		return errFrozen
	}
	serverIdx := make(map[string]uint32)
	localCount := make(map[string]uint32)
	for _, id := range t.Ranks.ServerIDs() {
		serverIdx[id] = uint32(len(serverIdx))
	}
	podIdx := make(map[string]uint32)
	for _, p := range t.SuperPods() {
		podIdx[p.ID] = uint32(len(podIdx))
	}
	for i := range t.Ranks {
		r := &t.Ranks[i]
		r.ServerIdx = serverIdx[r.ServerID]
		r.LocalRank = localCount[r.ServerID]
		localCount[r.ServerID]++
		if len(r.SuperPodID) > 0 {
			r.SuperPodIdx = podIdx[r.SuperPodID]
		}
	}
	return nil
}

// SuperPods returns the derived super pod grouping.
func (t *RankTopology) SuperPods() []SuperPod {
	var pods []SuperPod
	idx := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	for _, r := range t.Ranks {
		if len(r.SuperPodID) == 0 {
			continue
		}
		i, ok := idx[r.SuperPodID]
		if !ok {
			i = len(pods)
			idx[r.SuperPodID] = i
			pods = append(pods, SuperPod{ID: r.SuperPodID})
			seen[r.SuperPodID] = make(map[string]struct{})
		}
		if _, ok := seen[r.SuperPodID][r.ServerID]; !ok {
			seen[r.SuperPodID][r.ServerID] = struct{}{}
			pods[i].Servers = append(pods[i].Servers, r.ServerID)
		}
	}
	return pods
}

// DevicesPerServer counts the device ranks of each server.
func (t *RankTopology) DevicesPerServer() map[string]uint32 {
	m := make(map[string]uint32)
	for _, r := range t.Ranks {
		if !r.IsHost() {
			m[r.ServerID]++
		}
	}
	return m
}

// Clone returns an unfrozen deep copy.
func (t *RankTopology) Clone() *RankTopology {
	c := *t
	c.frozen = false
	c.Ranks = make(RankList, len(t.Ranks))
	for i, r := range t.Ranks {
		c.Ranks[i] = r.clone()
	}
	c.Servers = make([]ServerEntry, len(t.Servers))
	for i, s := range t.Servers {
		c.Servers[i] = s.clone()
	}
	return &c
}

func (t *RankTopology) String() string {
	return fmt.Sprintf("topology{version=%s,devices=%d,servers=%d,superpods=%d,ranks=%d,nic=%s}",
		t.Version, t.DeviceNum, t.ServerNum, t.SuperPodNum, t.RankNum, t.NicDeploy)
}

// SubGroup carves out a new topology over the given global rank ids.
// Rank ids in the result are renumbered densely in the given order.
func (t *RankTopology) SubGroup(ranks []uint32) (*RankTopology, error) {
	if len(ranks) == 0 {
		return nil, errors.Wrap(base.ErrPara, "empty sub group")
	}
	seen := make(map[uint32]struct{})
	sub := &RankTopology{
		Version:      t.Version,
		CollectiveID: t.CollectiveID,
		Mode:         t.Mode,
		NicDeploy:    t.NicDeploy,
	}
	servers := make(map[string]struct{})
	for i, id := range ranks {
		if _, ok := seen[id]; ok {
			return nil, errors.Wrapf(base.ErrPara, "duplicated rank %d in sub group", id)
		}
		seen[id] = struct{}{}
		r, ok := t.Ranks.Rank(id)
		if !ok {
			return nil, errors.Wrapf(base.ErrPara, "rank %d not in topology of %d ranks", id, t.RankNum)
		}
		r = r.clone()
		r.RankID = uint32(i)
		sub.Ranks = append(sub.Ranks, r)
		servers[r.ServerID] = struct{}{}
	}
	for _, s := range t.Servers {
		if _, ok := servers[s.ServerID]; ok {
			sub.Servers = append(sub.Servers, s.clone())
		}
	}
	if err := sub.AssignIndices(); err != nil {
		return nil, err
	}
	if err := sub.Recount(); err != nil {
		return nil, err
	}
	return sub, nil
}
