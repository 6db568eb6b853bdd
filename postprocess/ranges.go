package postprocess

// Range is a closed interval of physically valid values.
type Range struct{ Min, Max float64 }

const (
	SectionPathLoss = 0
	SectionAngle    = 1
)

var validRanges = map[int]Range{
	SectionPathLoss: {Min: 0, Max: 200},
	SectionAngle:    {Min: -18000, Max: 18000}, // hundredths of a degree
}

// ValidRange returns the valid value range of a prediction section.
func ValidRange(section int) (Range, bool) {
	r, ok := validRanges[section]
	return r, ok
}
