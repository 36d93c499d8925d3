package plan

import (
	"strings"
)

type RankList []RankEntry

func (rl RankList) String() string {
	var parts []string
	for _, r := range rl {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// Rank finds the entry with the given rank id.
func (rl RankList) Rank(id uint32) (RankEntry, bool) {
	if int(id) < len(rl) && rl[id].RankID == id {
		return rl[id], true
	}
	for _, r := range rl {
		if r.RankID == id {
			return r, true
		}
	}
	return RankEntry{}, false
}

// Index returns the position of the rank id in the list.
func (rl RankList) Index(id uint32) (int, bool) {
	for i, r := range rl {
		if r.RankID == id {
			return i, true
		}
	}
	return -1, false
}

// IDs returns the rank ids in list order.
func (rl RankList) IDs() []uint32 {
	ids := make([]uint32, len(rl))
	for i, r := range rl {
		ids[i] = r.RankID
	}
	return ids
}

func (rl RankList) Set() map[uint32]struct{} {
	s := make(map[uint32]struct{})
	for _, r := range rl {
		s[r.RankID] = struct{}{}
	}
	return s
}

func (rl RankList) sub(ql RankList) RankList {
	s := ql.Set()
	var a RankList
	for _, r := range rl {
		if _, ok := s[r.RankID]; !ok {
			a = append(a, r)
		}
	}
	return a
}

func (rl RankList) Intersection(ql RankList) RankList {
	s := ql.Set()
	var a RankList
	for _, r := range rl {
		if _, ok := s[r.RankID]; ok {
			a = append(a, r)
		}
	}
	return a
}

func (rl RankList) Diff(ql RankList) (RankList, RankList) {
	return rl.sub(ql), ql.sub(rl)
}

// On selects the ranks hosted by a server.
func (rl RankList) On(serverID string) RankList {
	var ql RankList
	for _, r := range rl {
		if r.ServerID == serverID {
			ql = append(ql, r)
		}
	}
	return ql
}

// InSuperPod selects the ranks of a super pod.
func (rl RankList) InSuperPod(podID string) RankList {
	var ql RankList
	for _, r := range rl {
		if r.SuperPodID == podID {
			ql = append(ql, r)
		}
	}
	return ql
}

// ServerIDs returns the distinct server ids in order of first appearance.
func (rl RankList) ServerIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, r := range rl {
		if _, ok := seen[r.ServerID]; !ok {
			seen[r.ServerID] = struct{}{}
			ids = append(ids, r.ServerID)
		}
	}
	return ids
}

// Select picks the entries at the given positions.
func (rl RankList) Select(idx []int) RankList {
	var ql RankList
	for _, i := range idx {
		ql = append(ql, rl[i])
	}
	return ql
}
