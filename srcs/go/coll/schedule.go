package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

// Xfer moves the listed blocks to or from one member.
type Xfer struct {
	Peer   int
	Blocks []int
}

// Step is one round of a schedule seen by one member. All sends of a step
// are posted before its receives.
type Step struct {
	Sends  []Xfer
	Recvs  []Xfer
	Reduce bool
}

// Algorithm generates the schedule of a sub-communicator of n members for
// member me. Blocks are indexed by member: after ReduceScatter member i holds
// block i reduced over all members; AllGather starts from that state and
// ends with every block on every member.
type Algorithm interface {
	Name() string
	Pattern() base.Pattern
	ReduceScatter(n, me int) []Step
	AllGather(n, me int) []Step
}

// OneShot is implemented by algorithms that reduce the whole buffer without
// a reduce-scatter/all-gather split.
type OneShot interface {
	AllReduce(n, me int) []Step
}

func mod(a, n int) int { return ((a % n) + n) % n }

func exchange(to int, send []int, from int, recv []int, reduce bool) Step {
	return Step{
		Sends:  []Xfer{{Peer: to, Blocks: send}},
		Recvs:  []Xfer{{Peer: from, Blocks: recv}},
		Reduce: reduce,
	}
}

func span(from, to int) []int {
	var bs []int
	for i := from; i < to; i++ {
		bs = append(bs, i)
	}
	return bs
}

// Ring passes one block per step to the next member.
type Ring struct{}

func (Ring) Name() string          { return "ring" }
func (Ring) Pattern() base.Pattern { return base.PatternRing }

func (Ring) ReduceScatter(n, me int) []Step {
	var steps []Step
	for s := 0; s < n-1; s++ {
		steps = append(steps, exchange(
			mod(me+1, n), []int{mod(me-s-1, n)},
			mod(me-1, n), []int{mod(me-s-2, n)},
			true))
	}
	return steps
}

func (Ring) AllGather(n, me int) []Step {
	var steps []Step
	for s := 0; s < n-1; s++ {
		steps = append(steps, exchange(
			mod(me+1, n), []int{mod(me-s, n)},
			mod(me-1, n), []int{mod(me-s-1, n)},
			false))
	}
	return steps
}

// Mesh exchanges directly with every other member, one peer per step.
type Mesh struct{}

func (Mesh) Name() string          { return "mesh" }
func (Mesh) Pattern() base.Pattern { return base.PatternMesh }

func (Mesh) ReduceScatter(n, me int) []Step {
	var steps []Step
	for s := 1; s < n; s++ {
		to := mod(me+s, n)
		steps = append(steps, exchange(to, []int{to}, mod(me-s, n), []int{me}, true))
	}
	return steps
}

func (Mesh) AllGather(n, me int) []Step {
	var steps []Step
	for s := 1; s < n; s++ {
		from := mod(me-s, n)
		steps = append(steps, exchange(mod(me+s, n), []int{me}, from, []int{from}, false))
	}
	return steps
}

// RHD is recursive halving-doubling. Member counts that are not a power of
// two are folded: the first 2*rem members pair up, the even one hands its
// data to the odd one before halving and takes its result back after.
type RHD struct{}

func (RHD) Name() string          { return "rhd" }
func (RHD) Pattern() base.Pattern { return base.PatternHalvingDoubling }

type rhdShape struct {
	n, p, rem int
}

func newRHDShape(n int) rhdShape {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return rhdShape{n: n, p: p, rem: n - p}
}

// virtual returns the virtual rank of member me, -1 if folded away.
func (s rhdShape) virtual(me int) int {
	if me < 2*s.rem {
		if me%2 == 0 {
			return -1
		}
		return me / 2
	}
	return me - s.rem
}

func (s rhdShape) member(v int) int {
	if v < s.rem {
		return 2*v + 1
	}
	return v + s.rem
}

// blocks returns the member blocks owned by the virtual ranks [lo, hi).
func (s rhdShape) blocks(lo, hi int) []int {
	var bs []int
	for v := lo; v < hi; v++ {
		if v < s.rem {
			bs = append(bs, 2*v, 2*v+1)
		} else {
			bs = append(bs, v+s.rem)
		}
	}
	return bs
}

func (s rhdShape) steps() int {
	var k int
	for 1<<k < s.p {
		k++
	}
	return k
}

func (RHD) ReduceScatter(n, me int) []Step {
	s := newRHDShape(n)
	var steps []Step
	if s.rem > 0 {
		switch {
		case me >= 2*s.rem:
			steps = append(steps, Step{})
		case me%2 == 0:
			steps = append(steps, Step{Sends: []Xfer{{Peer: me + 1, Blocks: span(0, n)}}})
		default:
			steps = append(steps, Step{Recvs: []Xfer{{Peer: me - 1, Blocks: span(0, n)}}, Reduce: true})
		}
	}
	v := s.virtual(me)
	lo, hi := 0, s.p
	for k := 0; k < s.steps(); k++ {
		if v < 0 {
			steps = append(steps, Step{})
			continue
		}
		mask := s.p >> (k + 1)
		peer := s.member(v ^ mask)
		mid := lo + mask
		if v&mask == 0 {
			steps = append(steps, exchange(peer, s.blocks(mid, hi), peer, s.blocks(lo, mid), true))
			hi = mid
		} else {
			steps = append(steps, exchange(peer, s.blocks(lo, mid), peer, s.blocks(mid, hi), true))
			lo = mid
		}
	}
	if s.rem > 0 {
		switch {
		case me >= 2*s.rem:
			steps = append(steps, Step{})
		case me%2 == 0:
			steps = append(steps, Step{Recvs: []Xfer{{Peer: me + 1, Blocks: []int{me}}}})
		default:
			steps = append(steps, Step{Sends: []Xfer{{Peer: me - 1, Blocks: []int{me - 1}}}})
		}
	}
	return steps
}

func (RHD) AllGather(n, me int) []Step {
	s := newRHDShape(n)
	var steps []Step
	if s.rem > 0 {
		switch {
		case me >= 2*s.rem:
			steps = append(steps, Step{})
		case me%2 == 0:
			steps = append(steps, Step{Sends: []Xfer{{Peer: me + 1, Blocks: []int{me}}}})
		default:
			steps = append(steps, Step{Recvs: []Xfer{{Peer: me - 1, Blocks: []int{me - 1}}}})
		}
	}
	v := s.virtual(me)
	for k := s.steps() - 1; k >= 0; k-- {
		if v < 0 {
			steps = append(steps, Step{})
			continue
		}
		mask := s.p >> (k + 1)
		lo := v &^ (mask - 1)
		peerLo := (v ^ mask) &^ (mask - 1)
		peer := s.member(v ^ mask)
		steps = append(steps, exchange(peer, s.blocks(lo, lo+mask), peer, s.blocks(peerLo, peerLo+mask), false))
	}
	if s.rem > 0 {
		switch {
		case me >= 2*s.rem:
			steps = append(steps, Step{})
		case me%2 == 0:
			steps = append(steps, Step{Recvs: []Xfer{{Peer: me + 1, Blocks: span(0, n)}}})
		default:
			steps = append(steps, Step{Sends: []Xfer{{Peer: me - 1, Blocks: span(0, n)}}})
		}
	}
	return steps
}

// NB is the non-uniform Bruck schedule: ceil(log2 n) steps for any n, the
// distance doubling in all-gather and halving in reduce-scatter.
type NB struct{}

func (NB) Name() string          { return "nb" }
func (NB) Pattern() base.Pattern { return base.PatternNB }

func log2Ceil(n int) int {
	var k int
	for 1<<k < n {
		k++
	}
	return k
}

func relBlocks(base, cnt, n int) []int {
	bs := make([]int, cnt)
	for j := range bs {
		bs[j] = mod(base+j, n)
	}
	return bs
}

func (NB) ReduceScatter(n, me int) []Step {
	var steps []Step
	for k := log2Ceil(n) - 1; k >= 0; k-- {
		d := 1 << k
		cnt := min(d, n-d)
		steps = append(steps, exchange(
			mod(me+d, n), relBlocks(me+d, cnt, n),
			mod(me-d, n), relBlocks(me, cnt, n),
			true))
	}
	return steps
}

func (NB) AllGather(n, me int) []Step {
	var steps []Step
	for k := 0; k < log2Ceil(n); k++ {
		d := 1 << k
		cnt := min(d, n-d)
		steps = append(steps, exchange(
			mod(me-d, n), relBlocks(me, cnt, n),
			mod(me+d, n), relBlocks(me+d, cnt, n),
			false))
	}
	return steps
}
