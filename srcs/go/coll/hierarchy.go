package coll

import (
	"sort"

	"github.com/lsds/hcomm/srcs/go/plan"
)

// hierarchy places every rank on a (server position, server in pod, pod)
// grid. A topology that does not fill a grid is planned flat: every rank
// in one level-0 group.
type hierarchy struct {
	rank  uint32
	flat  bool
	size  [3]int
	me    [3]int
	coord map[uint32][3]int
	at    map[[3]int]uint32
}

func newHierarchy(t *plan.RankTopology, rank uint32) *hierarchy {
	h := &hierarchy{rank: rank, coord: make(map[uint32][3]int), at: make(map[[3]int]uint32)}
	if !h.grid(t) {
		h.flatten(t)
	}
	h.me = h.coord[rank]
	return h
}

func (h *hierarchy) grid(t *plan.RankTopology) bool {
	local := make(map[string]int)
	serverPos := make(map[string]int)
	podIdx := make(map[string]int)
	pods := t.SuperPods()
	for i, p := range pods {
		podIdx[p.ID] = i
		for j, s := range p.Servers {
			serverPos[s] = j
		}
	}
	if len(pods) == 0 {
		for i, s := range t.Ranks.ServerIDs() {
			serverPos[s] = i
		}
	}
	var ranks plan.RankList = append(plan.RankList(nil), t.Ranks...)
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].RankID < ranks[j].RankID })
	for _, r := range ranks {
		sp, ok := serverPos[r.ServerID]
		if !ok {
			return false
		}
		c := [3]int{local[r.ServerID], sp, podIdx[r.SuperPodID]}
		local[r.ServerID]++
		if _, dup := h.at[c]; dup {
			return false
		}
		h.coord[r.RankID] = c
		h.at[c] = r.RankID
	}
	for _, c := range h.coord {
		for l := 0; l < 3; l++ {
			h.size[l] = max(h.size[l], c[l]+1)
		}
	}
	if h.size[0]*h.size[1]*h.size[2] != len(ranks) {
		h.coord = make(map[uint32][3]int)
		h.at = make(map[[3]int]uint32)
		return false
	}
	return true
}

func (h *hierarchy) flatten(t *plan.RankTopology) {
	h.flat = true
	ids := t.Ranks.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		c := [3]int{i, 0, 0}
		h.coord[id] = c
		h.at[c] = id
	}
	h.size = [3]int{len(ids), 1, 1}
}

// member returns the global rank at position m of my level-l group.
func (h *hierarchy) member(l, m int) uint32 {
	c := h.me
	c[l] = m
	return h.at[c]
}

// group returns the global ranks of my level-l group by position.
func (h *hierarchy) group(l int) []uint32 {
	g := make([]uint32, h.size[l])
	for m := range g {
		g[m] = h.member(l, m)
	}
	return g
}

// levelOf returns the lowest level whose group contains both me and peer.
func (h *hierarchy) levelOf(peer uint32) int {
	c := h.coord[peer]
	switch {
	case c[1] == h.me[1] && c[2] == h.me[2]:
		return 0
	case c[2] == h.me[2]:
		return 1
	}
	return 2
}

// joins reports whether I take part in a stage at level l rooted at root:
// my coordinates below l must match the root's.
func (h *hierarchy) joins(l int, root uint32) bool {
	rc := h.coord[root]
	for j := 0; j < l; j++ {
		if h.me[j] != rc[j] {
			return false
		}
	}
	return true
}
