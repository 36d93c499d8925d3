package plan

import "github.com/lsds/hcomm/srcs/go/hccl/base"

// Interval represents the interval of integers [Begin, End)
type Interval struct {
	Begin int
	End   int
}

func (i Interval) Len() int { return i.End - i.Begin }

// EvenPartition parts an Interval into k parts such that the length of each part differ at most 1
func EvenPartition(r Interval, k int) []Interval {
	quo, rem := divide(r.Len(), k)
	var parts []Interval
	offset := r.Begin
	for i := 0; i < k; i++ {
		n := quo
		if i < rem {
			n++
		}
		parts = append(parts, Interval{Begin: offset, End: offset + n})
		offset += n
	}
	return parts
}

// PartitionBytes splits count elements of unitSize bytes into k byte slices
// whose element counts differ by at most 1. Slices start at offset.
func PartitionBytes(offset uint64, count uint64, unitSize int, k int) []base.Slice {
	slices := make([]base.Slice, 0, k)
	for _, p := range EvenPartition(Interval{Begin: 0, End: int(count)}, k) {
		slices = append(slices, base.Slice{
			Offset: offset + uint64(p.Begin)*uint64(unitSize),
			Size:   uint64(p.Len()) * uint64(unitSize),
		})
	}
	return slices
}

func divide(a, b int) (int, int) {
	q := a / b
	r := a - b*q
	return q, r
}
