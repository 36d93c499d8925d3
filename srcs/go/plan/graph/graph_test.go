package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FromRing(t *testing.T) {
	g, ok := FromRing(8, []int{0, 1, 2, 6, 5, 4, 7, 3})
	require.True(t, ok)
	assert.Equal(t, 8, g.EdgeCount())
	assert.Equal(t, []int{2}, g.Nexts(1))
	assert.Equal(t, []int{0}, g.Nexts(3))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, g.Component(5))

	_, ok = FromRing(4, []int{0, 1, 1})
	assert.False(t, ok)
	_, ok = FromRing(4, []int{0, 4})
	assert.False(t, ok)
}

func Test_Complete(t *testing.T) {
	g := New(4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			g.AddEdge(i, j)
		}
	}
	assert.Equal(t, 12, g.EdgeCount())
	assert.True(t, g.IsComplete([]int{0, 1, 2, 3}))
	assert.True(t, g.IsIsolated(0) == false)

	h := New(4)
	h.AddUndirected(0, 1)
	h.AddUndirected(2, 3)
	assert.True(t, h.IsComplete([]int{0, 1}))
	assert.False(t, h.IsComplete([]int{0, 1, 2}))
	assert.Equal(t, []int{2, 3}, h.Component(3))
	assert.Equal(t, "[4]{(0->1)(1->0)(2->3)(3->2)}", h.DebugString())
	assert.Equal(t, h.EdgeCount(), h.Reverse().EdgeCount())
}
