package render

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm is a resampling method.
type Algorithm int

const (
	NearestNeighbour Algorithm = iota
	Bilinear
)

var ErrUnsupportedAlgorithm = errors.New("unsupported resampling algorithm")

func (a Algorithm) String() string {
	switch a {
	case NearestNeighbour:
		return "nearest"
	case Bilinear:
		return "bilinear"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm accepts "nearest" (or "near", the empty string) and "bilinear".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest", "near", "nearestneighbour", "nearestneighbor":
		return NearestNeighbour, nil
	case "bilinear":
		return Bilinear, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}
