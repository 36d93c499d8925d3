package base

import "fmt"

// Slice is a byte range [Offset, Offset+Size) of a buffer.
type Slice struct {
	Offset uint64
	Size   uint64
}

func (s Slice) End() uint64 { return s.Offset + s.Size }

func (s Slice) String() string {
	return fmt.Sprintf("[%d+%d]", s.Offset, s.Size)
}

// TotalSize sums the sizes of a slice list.
func TotalSize(slices []Slice) uint64 {
	var n uint64
	for _, s := range slices {
		n += s.Size
	}
	return n
}

// RoundDown rounds x down to a multiple of align (align > 0).
func RoundDown(x, align uint64) uint64 {
	return x / align * align
}

// RoundUp rounds x up to a multiple of align (align > 0).
func RoundUp(x, align uint64) uint64 {
	return (x + align - 1) / align * align
}
