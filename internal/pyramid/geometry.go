package pyramid

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/kiesman99/geoquadtree/internal/quadtree"
)

// ErrOutOfBounds is returned for points outside the root extent
var ErrOutOfBounds = errors.New("pyramid: point outside root extent")

// RootExtent returns the square covered by the root tile, centred on the origin
func (d *Descriptor) RootExtent() orb.Bound {
	hx := math.Ldexp(d.PixelSize[0]*float64(d.TileSize[0]), d.Levels-1)
	hy := math.Ldexp(d.PixelSize[1]*float64(d.TileSize[1]), d.Levels-1)
	return orb.Bound{
		Min: orb.Point{d.Origin[0] - hx, d.Origin[1] - hy},
		Max: orb.Point{d.Origin[0] + hx, d.Origin[1] + hy},
	}
}

// PixelSizeAt returns the pixel size of tiles at the given depth
func (d *Descriptor) PixelSizeAt(depth int) (float64, float64) {
	return math.Ldexp(d.PixelSize[0], d.Levels-depth), math.Ldexp(d.PixelSize[1], d.Levels-depth)
}

// TileSpan returns the world width and height of a tile at the given depth
func (d *Descriptor) TileSpan(depth int) (float64, float64) {
	px, py := d.PixelSizeAt(depth)
	return px * float64(d.TileSize[0]), py * float64(d.TileSize[1])
}

// TilesPerAxis returns the number of tile columns (and rows) at a depth
func (d *Descriptor) TilesPerAxis(depth int) int {
	return 1 << depth
}

// TileCenter returns the centre of the tile in column col and row row of
// the grid at depth; row 0 is the top row of the root extent. Positions
// outside the grid yield points outside the root extent.
func (d *Descriptor) TileCenter(depth, col, row int) orb.Point {
	root := d.RootExtent()
	tw, th := d.TileSpan(depth)
	return orb.Point{
		root.Min[0] + (float64(col)+0.5)*tw,
		root.Max[1] - (float64(row)+0.5)*th,
	}
}

// Locate returns the path of the tile at the given depth covering p.
// Depth Levels addresses leaf tiles, depth 0 the root.
func (d *Descriptor) Locate(p orb.Point, depth int) (quadtree.Path, error) {
	if depth < 0 || depth > d.Levels {
		return quadtree.Root, fmt.Errorf("pyramid: depth %d outside [0,%d]", depth, d.Levels)
	}

	ext := d.RootExtent()
	x, y := p[0], p[1]
	if !(x >= ext.Min[0] && x <= ext.Max[0] && y >= ext.Min[1] && y <= ext.Max[1]) {
		return quadtree.Root, fmt.Errorf("%w: %v", ErrOutOfBounds, p)
	}

	qs := make([]quadtree.Quadrant, 0, depth)
	for i := 0; i < depth; i++ {
		xm := (ext.Min[0] + ext.Max[0]) / 2
		ym := (ext.Min[1] + ext.Max[1]) / 2

		var q quadtree.Quadrant
		switch {
		case x < xm && y > ym:
			q = quadtree.UpperLeft
		case y > ym:
			q = quadtree.UpperRight
		case x >= xm:
			q = quadtree.LowerRight
		default:
			q = quadtree.LowerLeft
		}
		qs = append(qs, q)
		ext = narrow(ext, xm, ym, q)
	}
	return quadtree.NewPath(qs...)
}

// TileExtent replays the bisection along path and returns the tile's extent
func (d *Descriptor) TileExtent(path quadtree.Path) orb.Bound {
	ext := d.RootExtent()
	for i := 0; i < path.Depth(); i++ {
		xm := (ext.Min[0] + ext.Max[0]) / 2
		ym := (ext.Min[1] + ext.Max[1]) / 2
		ext = narrow(ext, xm, ym, path.At(i))
	}
	return ext
}

func narrow(ext orb.Bound, xm, ym float64, q quadtree.Quadrant) orb.Bound {
	if q.East() {
		ext.Min[0] = xm
	} else {
		ext.Max[0] = xm
	}
	if q.North() {
		ext.Min[1] = ym
	} else {
		ext.Max[1] = ym
	}
	return ext
}

// LevelForResolution selects the depth to read from for a requested pixel
// size. Starting at the leaf pixel size it doubles while doubling again
// would not exceed the request on both axes, stopping at the root. It
// returns the depth and that depth's pixel size.
func (d *Descriptor) LevelForResolution(wantX, wantY float64) (int, float64, float64) {
	depth := d.Levels
	px, py := d.PixelSize[0], d.PixelSize[1]
	for depth > 0 && !(px*2 > wantX && py*2 > wantY) {
		px *= 2
		py *= 2
		depth--
	}
	return depth, px, py
}

// Snap rounds v to the nearest integer when it lies within floating point
// noise of it. Grid index computations snap before flooring or ceiling.
func Snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-9 {
		return r
	}
	return v
}
