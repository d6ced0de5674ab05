// Package labels computes DFS-interval labels: for every edge of a
// hierarchy, a conservative summary of the nodes reachable through it by
// stepping down only. A search that is already descending can skip an edge
// whose label cannot contain its target.
package labels

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Interval is a closed integer range. Lo > Hi means empty.
type Interval struct {
	Lo, Hi int32
}

// EmptyInterval returns the interval that contains nothing.
func EmptyInterval() Interval {
	return Interval{Lo: math.MaxInt32, Hi: math.MinInt32}
}

func (iv Interval) Empty() bool { return iv.Lo > iv.Hi }

func (iv Interval) Contains(v int32) bool { return v >= iv.Lo && v <= iv.Hi }

// ContainsInterval reports whether o lies inside iv. The empty interval lies
// inside everything.
func (iv Interval) ContainsInterval(o Interval) bool {
	return o.Empty() || (iv.Lo <= o.Lo && o.Hi <= iv.Hi)
}

// Grow extends the interval to include v.
func (iv *Interval) Grow(v int32) {
	if v < iv.Lo {
		iv.Lo = v
	}
	if v > iv.Hi {
		iv.Hi = v
	}
}

// Merge extends the interval to cover o.
func (iv *Interval) Merge(o Interval) {
	if o.Empty() {
		return
	}
	iv.Grow(o.Lo)
	iv.Grow(o.Hi)
}

// BBox is an axis-aligned coordinate box. MinLat > MaxLat means empty.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// EmptyBBox returns the box that contains nothing.
func EmptyBBox() BBox {
	return BBox{
		MinLat: math.Inf(1), MaxLat: math.Inf(-1),
		MinLon: math.Inf(1), MaxLon: math.Inf(-1),
	}
}

func (b BBox) Empty() bool { return b.MinLat > b.MaxLat }

func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func (b BBox) ContainsBBox(o BBox) bool {
	if o.Empty() {
		return true
	}
	return b.MinLat <= o.MinLat && o.MaxLat <= b.MaxLat && b.MinLon <= o.MinLon && o.MaxLon <= b.MaxLon
}

func (b *BBox) Grow(lat, lon float64) {
	b.MinLat = math.Min(b.MinLat, lat)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MinLon = math.Min(b.MinLon, lon)
	b.MaxLon = math.Max(b.MaxLon, lon)
}

func (b *BBox) Merge(o BBox) {
	if o.Empty() {
		return
	}
	b.Grow(o.MinLat, o.MinLon)
	b.Grow(o.MaxLat, o.MaxLon)
}

// Attrs are the per-node values a label is tested against.
type Attrs struct {
	DFSID    int32
	Rank     int32
	Lat, Lon float64
	Cell     uint32
	HasCell  bool
}

// Label over-approximates a set of nodes by four independent summaries.
// Cells is nil when the graph carries no partition.
type Label struct {
	IDs   Interval
	Ranks Interval
	Box   BBox
	Cells *roaring.Bitmap
}

// NewLabel returns an empty label.
func NewLabel() Label {
	return Label{IDs: EmptyInterval(), Ranks: EmptyInterval(), Box: EmptyBBox()}
}

// Empty reports whether no node has been added.
func (l *Label) Empty() bool { return l.IDs.Empty() }

// Grow adds one node.
func (l *Label) Grow(a Attrs) {
	l.IDs.Grow(a.DFSID)
	l.Ranks.Grow(a.Rank)
	l.Box.Grow(a.Lat, a.Lon)
	if a.HasCell {
		if l.Cells == nil {
			l.Cells = roaring.New()
		}
		l.Cells.Add(a.Cell)
	}
}

// Merge adds every node summarised by o.
func (l *Label) Merge(o *Label) {
	l.IDs.Merge(o.IDs)
	l.Ranks.Merge(o.Ranks)
	l.Box.Merge(o.Box)
	if o.Cells != nil {
		if l.Cells == nil {
			l.Cells = roaring.New()
		}
		l.Cells.Or(o.Cells)
	}
}

// Contains reports whether a node with attributes a may be summarised by l.
// A false answer is exact; a true answer may be slack.
func (l *Label) Contains(a Attrs) bool {
	if !l.IDs.Contains(a.DFSID) || !l.Ranks.Contains(a.Rank) || !l.Box.Contains(a.Lat, a.Lon) {
		return false
	}
	if a.HasCell && (l.Cells == nil || !l.Cells.Contains(a.Cell)) {
		return false
	}
	return true
}

// ContainsLabel reports whether every component of o lies inside l.
func (l *Label) ContainsLabel(o *Label) bool {
	if !l.IDs.ContainsInterval(o.IDs) || !l.Ranks.ContainsInterval(o.Ranks) || !l.Box.ContainsBBox(o.Box) {
		return false
	}
	if o.Cells == nil || o.Cells.IsEmpty() {
		return true
	}
	return l.Cells != nil && o.Cells.AndCardinality(l.Cells) == o.Cells.GetCardinality()
}

// Clone returns a deep copy.
func (l *Label) Clone() Label {
	c := *l
	if l.Cells != nil {
		c.Cells = l.Cells.Clone()
	}
	return c
}

// Mem returns the approximate heap footprint in bytes.
func (l *Label) Mem() int {
	n := 16 + 32 + 8
	if l.Cells != nil {
		n += int(l.Cells.GetSizeInBytes())
	}
	return n
}
