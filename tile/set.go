package tile

import (
	"cmp"
	"slices"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/akhenakh/predraster/geometry"
)

// pointSlack widens point searches so that points on a tile edge still hit the tree.
const pointSlack = 1e-6

// Set is an immutable spatial index over tiles of heterogeneous resolution.
type Set struct {
	tree   *rtree.Rtree
	tiles  []*Tile
	bounds geometry.Box
}

type entry struct {
	geom.Polygonal
	tile  *Tile
	order int
}

// NewSet indexes tiles. Tiles added first win ties between equal resolutions.
func NewSet(tiles []*Tile) *Set {
	s := &Set{tree: rtree.NewTree(25, 50), tiles: tiles}
	for i, t := range tiles {
		if i == 0 {
			s.bounds = t.Bounds
		} else {
			s.bounds = s.bounds.Union(t.Bounds)
		}
		s.tree.Insert(&entry{Polygonal: polygon(t.Bounds), tile: t, order: i})
	}
	return s
}

func polygon(b geometry.Box) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
	}}
}

func (s *Set) Len() int { return len(s.tiles) }

// Tiles returns the indexed tiles in insertion order.
func (s *Set) Tiles() []*Tile { return s.tiles }

// Bounds is the union of all tile bounds, the zero box for an empty set.
func (s *Set) Bounds() geometry.Box { return s.bounds }

func (s *Set) search(area geometry.Box) []*entry {
	if len(s.tiles) == 0 {
		return nil
	}
	found := s.tree.SearchIntersect(&geom.Bounds{
		Min: geom.Point{X: area.Min.X, Y: area.Min.Y},
		Max: geom.Point{X: area.Max.X, Y: area.Max.Y},
	})
	entries := make([]*entry, 0, len(found))
	for _, g := range found {
		entries = append(entries, g.(*entry))
	}
	// finest first, then load order
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := cmp.Compare(a.tile.Resolution, b.tile.Resolution); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	return entries
}

// Query returns the tiles whose interior intersects area, finest resolution first.
func (s *Set) Query(area geometry.Box) []*Tile {
	var tiles []*Tile
	for _, e := range s.search(area) {
		if e.tile.Bounds.Intersects(area) {
			tiles = append(tiles, e.tile)
		}
	}
	return tiles
}

// At returns the finest tile containing p, nil when none does.
func (s *Set) At(p geometry.Point) *Tile {
	for _, e := range s.search(geometry.Box{Min: p, Max: p}.Grow(pointSlack)) {
		if e.tile.Bounds.Contains(p) {
			return e.tile
		}
	}
	return nil
}
