package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntervalGrowMerge(t *testing.T) {
	iv := EmptyInterval()
	assert.True(t, iv.Empty())
	assert.False(t, iv.Contains(0))

	iv.Grow(5)
	iv.Grow(2)
	assert.Equal(t, Interval{Lo: 2, Hi: 5}, iv)

	iv.Merge(EmptyInterval())
	assert.Equal(t, Interval{Lo: 2, Hi: 5}, iv)

	iv.Merge(Interval{Lo: 7, Hi: 9})
	assert.Equal(t, Interval{Lo: 2, Hi: 9}, iv)
	assert.True(t, iv.ContainsInterval(Interval{Lo: 3, Hi: 9}))
	assert.False(t, iv.ContainsInterval(Interval{Lo: 1, Hi: 3}))
	assert.True(t, iv.ContainsInterval(EmptyInterval()))
}

func TestLabelContains(t *testing.T) {
	l := NewLabel()
	assert.True(t, l.Empty())

	a := Attrs{DFSID: 3, Rank: 10, Lat: 1.30, Lon: 103.80, Cell: 2, HasCell: true}
	b := Attrs{DFSID: 7, Rank: 4, Lat: 1.35, Lon: 103.85, Cell: 5, HasCell: true}
	l.Grow(a)
	l.Grow(b)

	assert.True(t, l.Contains(a))
	assert.True(t, l.Contains(b))

	// Inside every interval and the box, but in a cell nobody added.
	mid := Attrs{DFSID: 5, Rank: 6, Lat: 1.32, Lon: 103.82, Cell: 3, HasCell: true}
	assert.False(t, l.Contains(mid))
	mid.Cell = 5
	assert.True(t, l.Contains(mid))

	outside := b
	outside.DFSID = 8
	assert.False(t, l.Contains(outside))
	outside = b
	outside.Lat = 1.36
	assert.False(t, l.Contains(outside))
}

func TestLabelMergeAndClone(t *testing.T) {
	l := NewLabel()
	l.Grow(Attrs{DFSID: 1, Rank: 1, Lat: 1, Lon: 1, Cell: 1, HasCell: true})

	c := l.Clone()
	c.Grow(Attrs{DFSID: 9, Rank: 9, Lat: 2, Lon: 2, Cell: 9, HasCell: true})
	assert.False(t, l.Cells.Contains(9), "clone must not share cells")
	assert.True(t, c.ContainsLabel(&l))
	assert.False(t, l.ContainsLabel(&c))

	l.Merge(&c)
	assert.True(t, l.ContainsLabel(&c))
	assert.True(t, c.ContainsLabel(&l))
}

func TestLabelWithoutCells(t *testing.T) {
	l := NewLabel()
	a := Attrs{DFSID: 0, Rank: 0, Lat: 1, Lon: 1}
	l.Grow(a)
	assert.Nil(t, l.Cells)
	assert.True(t, l.Contains(a))

	empty := NewLabel()
	assert.True(t, l.ContainsLabel(&empty))
}
