// Package proj converts coordinates between spatial reference systems.
package proj

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

var (
	// ErrUnsupportedCRS is returned when no transform is known between two systems
	ErrUnsupportedCRS = errors.New("proj: unsupported CRS")
	// ErrReprojection is returned when a point cannot be transformed
	ErrReprojection = errors.New("proj: reprojection failed")
)

// Well known codes
const (
	WGS84       = "EPSG:4326"
	WebMercator = "EPSG:3857"
)

var aliases = map[string]string{
	"CRS:84":      WGS84,
	"WGS84":       WGS84,
	"EPSG:4326":   WGS84,
	"EPSG:3857":   WebMercator,
	"EPSG:900913": WebMercator,
	"EPSG:3785":   WebMercator,
	"EPSG:102100": WebMercator,
	"EPSG:102113": WebMercator,
}

type pair struct{ src, dst string }

var projections = map[pair]orb.Projection{
	{WGS84, WebMercator}: project.WGS84.ToMercator,
	{WebMercator, WGS84}: project.Mercator.ToWGS84,
}

// Normalize returns the canonical spelling of a CRS code
func Normalize(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if a, ok := aliases[c]; ok {
		return a
	}
	return c
}

// Same reports whether two codes name the same system
func Same(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Supported reports whether a transform exists between the two systems
func Supported(src, dst string) bool {
	if Same(src, dst) {
		return true
	}
	_, ok := projections[pair{Normalize(src), Normalize(dst)}]
	return ok
}

// Transformer converts points in place. Implementations are safe for
// concurrent use.
type Transformer interface {
	Transform(pts []orb.Point) error
}

type identity struct{}

func (identity) Transform([]orb.Point) error { return nil }

type projection struct {
	src, dst string
	fn       orb.Projection
}

func (p *projection) Transform(pts []orb.Point) error {
	for i, pt := range pts {
		q := p.fn(pt)
		if !finite(q[0]) || !finite(q[1]) {
			return fmt.Errorf("%w: %v from %s to %s", ErrReprojection, pt, p.src, p.dst)
		}
		pts[i] = q
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// New returns a transformer from src to dst
func New(src, dst string) (Transformer, error) {
	s, d := Normalize(src), Normalize(dst)
	if s == d {
		return identity{}, nil
	}
	fn, ok := projections[pair{s, d}]
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedCRS, src, dst)
	}
	return &projection{src: s, dst: d, fn: fn}, nil
}

// TransformBound transforms the four corners of b and returns their bounding box
func TransformBound(t Transformer, b orb.Bound) (orb.Bound, error) {
	corners := []orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
	}
	if err := t.Transform(corners); err != nil {
		return orb.Bound{}, err
	}
	return orb.MultiPoint(corners).Bound(), nil
}
