package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBox(t *testing.T) {
	b := NewBox(4, 3, 0, 1)
	assert.Equal(t, Box{Min: Pt(0, 1), Max: Pt(4, 3)}, b)
	assert.Equal(t, 4.0, b.Width())
	assert.Equal(t, 2.0, b.Height())
	assert.False(t, b.Empty())
	assert.True(t, NewBox(0, 0, 0, 3).Empty())

	assert.True(t, b.Contains(Pt(0, 1)))
	assert.False(t, b.Contains(Pt(4, 2)), "max edge is excluded")

	o := NewBox(2, 2, 6, 6)
	assert.True(t, b.Intersects(o))
	assert.Equal(t, NewBox(2, 2, 4, 3), b.Intersection(o))
	assert.Equal(t, NewBox(0, 1, 6, 6), b.Union(o))

	touching := NewBox(4, 1, 5, 3)
	assert.False(t, b.Intersects(touching))
	assert.True(t, b.Intersection(touching).Empty())
	assert.True(t, b.Intersection(NewBox(10, 10, 11, 11)).Empty())

	assert.Equal(t, NewBox(-1, 0, 5, 4), b.Grow(1))
	assert.Equal(t, NewBox(1, 3, 5, 5), b.Translate(Pt(1, 2)))
	assert.Equal(t, "[(0, 1) - (4, 3)]", b.String())
}

func TestRowSegment(t *testing.T) {
	testCases := []struct {
		name          string
		seg           RowSegment
		offset, width int
		want          RowSegment
	}{
		{"inside", RowSegment{Start: 5, End: 9}, 4, 8, RowSegment{Start: 1, End: 5}},
		{"clipped right", RowSegment{Start: 5, End: 20}, 4, 8, RowSegment{Start: 1, End: 8}},
		{"clipped left", RowSegment{Start: 0, End: 6}, 4, 8, RowSegment{Start: 0, End: 2}},
		{"before block", RowSegment{Start: 0, End: 3}, 4, 8, RowSegment{Start: 0, End: 0}},
		{"after block", RowSegment{Start: 14, End: 20}, 4, 8, RowSegment{Start: 8, End: 8}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.seg.Relative(tc.offset, tc.width))
		})
	}

	s := RowSegment{Start: 2, End: 5}
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(5))
	assert.Equal(t, 0, RowSegment{Start: 5, End: 2}.Len())
	assert.True(t, RowSegment{}.Empty())
}
