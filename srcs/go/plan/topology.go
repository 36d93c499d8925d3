package plan

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan/graph"
)

// EightPRingOrders are the four rings over the eight devices of a
// 910 module that together use every HCCS link once in each direction.
var EightPRingOrders = [][]int{
	{0, 1, 2, 6, 5, 4, 7, 3},
	{0, 3, 7, 4, 5, 6, 2, 1},
	{0, 2, 3, 1, 5, 7, 6, 4},
	{0, 4, 6, 7, 5, 1, 3, 2},
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func reversed(order []int) []int {
	r := make([]int, len(order))
	for i, v := range order {
		r[len(order)-1-i] = v
	}
	return r
}

// RingOrders returns the level-0 ring orders over n local positions.
// Mesh patterns are modelled by a single identity order.
func RingOrders(level0 base.AlgLevel0, n int) [][]int {
	switch level0 {
	case base.Level0EightPRing:
		if n == 8 {
			return EightPRingOrders
		}
	case base.Level0NPDoubleRing:
		if n > 2 {
			return [][]int{identity(n), reversed(identity(n))}
		}
	}
	return [][]int{identity(n)}
}

// RingGraph builds the directed graph of a ring order.
func RingGraph(order []int) *graph.Graph {
	g, ok := graph.FromRing(len(order), order)
	if !ok {
		return graph.New(len(order))
	}
	return g
}

// positionInPod is the index of a server within its super pod.
func (t *RankTopology) positionInPod(r RankEntry) int {
	if len(r.SuperPodID) == 0 {
		return int(r.ServerIdx)
	}
	for _, p := range t.SuperPods() {
		if p.ID != r.SuperPodID {
			continue
		}
		for i, s := range p.Servers {
			if s == r.ServerID {
				return i
			}
		}
	}
	return -1
}

// Level0Ranks are the ranks sharing the server of rank.
func (t *RankTopology) Level0Ranks(rank uint32) RankList {
	r, ok := t.Ranks.Rank(rank)
	if !ok {
		return nil
	}
	return t.Ranks.On(r.ServerID)
}

// Level1Ranks are the ranks with the same local rank as rank on every
// server of its super pod, one per server.
func (t *RankTopology) Level1Ranks(rank uint32) RankList {
	r, ok := t.Ranks.Rank(rank)
	if !ok {
		return nil
	}
	var ql RankList
	for _, q := range t.Ranks {
		if q.LocalRank == r.LocalRank && q.SuperPodID == r.SuperPodID {
			ql = append(ql, q)
		}
	}
	return ql
}

// Level2Ranks are the ranks at the same position as rank in every super
// pod. It is empty unless the topology has more than one super pod.
func (t *RankTopology) Level2Ranks(rank uint32) RankList {
	if len(t.SuperPods()) < 2 {
		return nil
	}
	r, ok := t.Ranks.Rank(rank)
	if !ok {
		return nil
	}
	pos := t.positionInPod(r)
	var ql RankList
	for _, q := range t.Ranks {
		if q.LocalRank == r.LocalRank && t.positionInPod(q) == pos {
			ql = append(ql, q)
		}
	}
	return ql
}
