package coll

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
)

// NHR halves the member range recursively. When a range has an odd size
// the right half is one larger and its extra member pairs with the first
// member of the left half, so every member count takes ceil(log2 n) rounds.
type NHR struct{}

func (NHR) Name() string          { return "nhr" }
func (NHR) Pattern() base.Pattern { return base.PatternNHR }

func (NHR) ReduceScatter(n, me int) []Step {
	var steps []Step
	lo, hi := 0, n
	for hi-lo > 1 {
		m := hi - lo
		h := m / 2
		mid := lo + h
		if me < mid {
			i := me - lo
			st := Step{
				Sends:  []Xfer{{Peer: mid + i, Blocks: span(mid, hi)}},
				Reduce: true,
			}
			for j := i; j < m-h; j += h {
				st.Recvs = append(st.Recvs, Xfer{Peer: mid + j, Blocks: span(lo, mid)})
			}
			steps = append(steps, st)
			hi = mid
		} else {
			j := me - mid
			st := Step{
				Sends:  []Xfer{{Peer: lo + j%h, Blocks: span(lo, mid)}},
				Reduce: true,
			}
			if j < h {
				st.Recvs = []Xfer{{Peer: lo + j, Blocks: span(mid, hi)}}
			}
			steps = append(steps, st)
			lo = mid
		}
	}
	return steps
}

func (NHR) AllGather(n, me int) []Step {
	type rng struct{ lo, hi int }
	var path []rng
	lo, hi := 0, n
	for hi-lo > 1 {
		path = append(path, rng{lo, hi})
		mid := lo + (hi-lo)/2
		if me < mid {
			hi = mid
		} else {
			lo = mid
		}
	}
	var steps []Step
	for k := len(path) - 1; k >= 0; k-- {
		lo, hi := path[k].lo, path[k].hi
		m := hi - lo
		h := m / 2
		mid := lo + h
		if me < mid {
			i := me - lo
			st := Step{Recvs: []Xfer{{Peer: mid + i, Blocks: span(mid, hi)}}}
			for j := i; j < m-h; j += h {
				st.Sends = append(st.Sends, Xfer{Peer: mid + j, Blocks: span(lo, mid)})
			}
			steps = append(steps, st)
		} else {
			j := me - mid
			st := Step{Recvs: []Xfer{{Peer: lo + j%h, Blocks: span(lo, mid)}}}
			if j < h {
				st.Sends = []Xfer{{Peer: lo + j, Blocks: span(mid, hi)}}
			}
			steps = append(steps, st)
		}
	}
	return steps
}

// NHROneShot reduces the whole buffer in a single round: every member sends
// everything to every other member. It only pays off for small buffers.
type NHROneShot struct{}

func (NHROneShot) Name() string          { return "nhr-oneshot" }
func (NHROneShot) Pattern() base.Pattern { return base.PatternNHROneShot }

func (NHROneShot) ReduceScatter(n, me int) []Step { return NHR{}.ReduceScatter(n, me) }
func (NHROneShot) AllGather(n, me int) []Step     { return NHR{}.AllGather(n, me) }

func (NHROneShot) AllReduce(n, me int) []Step {
	if n < 2 {
		return nil
	}
	st := Step{Reduce: true}
	all := span(0, n)
	for s := 1; s < n; s++ {
		st.Sends = append(st.Sends, Xfer{Peer: mod(me+s, n), Blocks: all})
		st.Recvs = append(st.Recvs, Xfer{Peer: mod(me-s, n), Blocks: all})
	}
	return []Step{st}
}

// NHRV1 lays the members out on an r x c grid, r the largest divisor of n
// not above sqrt(n), and runs a ring along the rows then along the columns.
type NHRV1 struct{}

func (NHRV1) Name() string          { return "nhr-v1" }
func (NHRV1) Pattern() base.Pattern { return base.PatternNHRV1 }

func grid(n int) (rows, cols int) {
	rows = 1
	for r := 1; r*r <= n; r++ {
		if n%r == 0 {
			rows = r
		}
	}
	return rows, n / rows
}

// lift rewrites a ring schedule over a sub-group into member indices:
// sub-member i is member at(i), sub-block b expands to blocks(b).
func lift(steps []Step, at func(int) int, blocks func(int) []int) []Step {
	out := make([]Step, len(steps))
	for k, st := range steps {
		o := Step{Reduce: st.Reduce}
		for _, x := range st.Sends {
			o.Sends = append(o.Sends, Xfer{Peer: at(x.Peer), Blocks: expand(x.Blocks, blocks)})
		}
		for _, x := range st.Recvs {
			o.Recvs = append(o.Recvs, Xfer{Peer: at(x.Peer), Blocks: expand(x.Blocks, blocks)})
		}
		out[k] = o
	}
	return out
}

func expand(bs []int, f func(int) []int) []int {
	var out []int
	for _, b := range bs {
		out = append(out, f(b)...)
	}
	return out
}

func (NHRV1) ReduceScatter(n, me int) []Step {
	rows, cols := grid(n)
	row, col := me/cols, me%cols
	// along the row: sub-block j is every block of column j
	steps := lift(Ring{}.ReduceScatter(cols, col),
		func(j int) int { return row*cols + j },
		func(j int) []int {
			var bs []int
			for r := 0; r < rows; r++ {
				bs = append(bs, r*cols+j)
			}
			return bs
		})
	// along the column: sub-block r is block r*cols+col
	steps = append(steps, lift(Ring{}.ReduceScatter(rows, row),
		func(r int) int { return r*cols + col },
		func(r int) []int { return []int{r*cols + col} })...)
	return steps
}

func (NHRV1) AllGather(n, me int) []Step {
	rows, cols := grid(n)
	row, col := me/cols, me%cols
	steps := lift(Ring{}.AllGather(rows, row),
		func(r int) int { return r*cols + col },
		func(r int) []int { return []int{r*cols + col} })
	steps = append(steps, lift(Ring{}.AllGather(cols, col),
		func(j int) int { return row*cols + j },
		func(j int) []int {
			var bs []int
			for r := 0; r < rows; r++ {
				bs = append(bs, r*cols+j)
			}
			return bs
		})...)
	return steps
}
