// Package resample renders a georeferenced pixel buffer onto another grid,
// optionally in a different spatial reference.
package resample

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/geoquadtree/internal/proj"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// Filter selects the interpolation strategy
type Filter int

const (
	Nearest Filter = iota
	Bicubic
)

func (f Filter) String() string {
	switch f {
	case Nearest:
		return "nearest"
	case Bicubic:
		return "bicubic"
	}
	return fmt.Sprintf("Filter(%d)", int(f))
}

// ParseFilter accepts "nearest"/"0" and "bicubic"/"1"
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "0", "":
		return Nearest, nil
	case "bicubic", "cubic", "1":
		return Bicubic, nil
	}
	return 0, fmt.Errorf("unknown filter %q", s)
}

// Resampler maps destination pixels back into a source raster
type Resampler struct {
	kernel  *Kernel
	workers int
}

// Option configures a Resampler
type Option func(*Resampler)

// WithWorkers sets the number of rows rendered concurrently
func WithWorkers(n int) Option {
	return func(r *Resampler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithKernel shares an existing kernel table
func WithKernel(k *Kernel) Option {
	return func(r *Resampler) {
		r.kernel = k
	}
}

// New creates a resampler, building the kernel table unless one is given
func New(opts ...Option) *Resampler {
	r := &Resampler{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(r)
	}
	if r.kernel == nil {
		r.kernel = NewKernel()
	}
	return r
}

// nearestEpsilon absorbs representation error before truncating
const nearestEpsilon = 1e-9

// grid holds the mapping between destination pixels and source pixel space
type grid struct {
	src, dst tile.Raster
	// destination pixel size
	dpx, dpy float64
	// source pixels per world unit
	mx, my float64
}

func newGrid(src, dst tile.Raster) *grid {
	return &grid{
		src: src,
		dst: dst,
		dpx: (dst.Bounds.Max[0] - dst.Bounds.Min[0]) / float64(dst.Image.Width),
		dpy: (dst.Bounds.Max[1] - dst.Bounds.Min[1]) / float64(dst.Image.Height),
		mx:  float64(src.Image.Width) / (src.Bounds.Max[0] - src.Bounds.Min[0]),
		my:  float64(src.Image.Height) / (src.Bounds.Max[1] - src.Bounds.Min[1]),
	}
}

// samples returns the world positions of the top-left corners of every
// pixel in destination row y
func (g *grid) samples(y int) []orb.Point {
	pts := make([]orb.Point, g.dst.Image.Width)
	wy := g.dst.Bounds.Max[1] - float64(y)*g.dpy
	for x := range pts {
		pts[x] = orb.Point{g.dst.Bounds.Min[0] + float64(x)*g.dpx, wy}
	}
	return pts
}

// pixel converts a world position into continuous source pixel
// coordinates, rows counted from the top
func (g *grid) pixel(p orb.Point) (float64, float64) {
	return (p[0] - g.src.Bounds.Min[0]) * g.mx, (g.src.Bounds.Max[1] - p[1]) * g.my
}

// floorIndex returns floor(v) clamped to [0, n-1]
func floorIndex(v float64, n int) int {
	if !(v > 0) {
		return 0
	}
	if v >= float64(n-1) {
		return n - 1
	}
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Resample fills dst.Image from src. tr converts destination coordinates
// into the source CRS; nil means both share one CRS.
func (r *Resampler) Resample(ctx context.Context, src, dst tile.Raster, f Filter, tr proj.Transformer) error {
	if src.Image.Width == 0 || src.Image.Height == 0 || dst.Image.Width == 0 || dst.Image.Height == 0 {
		return nil
	}

	g := newGrid(src, dst)

	var row func(y int) error
	switch f {
	case Nearest:
		if tr == nil {
			row = r.nearestAligned(g)
		} else {
			row = func(y int) error { return r.nearestProjected(g, tr, y) }
		}
	case Bicubic:
		row = func(y int) error { return r.bicubic(g, tr, y) }
	default:
		return fmt.Errorf("unknown filter %v", f)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)
	for y := 0; y < dst.Image.Height; y++ {
		if gctx.Err() != nil {
			break
		}
		y := y
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return row(y)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// nearestAligned walks the destination grid with constant strides in
// source pixel space. Column indices are shared by every row.
func (r *Resampler) nearestAligned(g *grid) func(int) error {
	sw, sh := g.src.Image.Width, g.src.Image.Height

	fx0 := (g.dst.Bounds.Min[0] - g.src.Bounds.Min[0]) * g.mx
	fy0 := (g.src.Bounds.Max[1] - g.dst.Bounds.Max[1]) * g.my
	fxInc := g.dpx * g.mx
	fyInc := g.dpy * g.my

	cols := make([]int, g.dst.Image.Width)
	for x := range cols {
		cols[x] = floorIndex(fx0+float64(x)*fxInc+nearestEpsilon, sw)
	}

	return func(y int) error {
		j := floorIndex(fy0+float64(y)*fyInc+nearestEpsilon, sh)
		srcRow := g.src.Image.Pix[j*g.src.Image.Stride():]
		out := g.dst.Image.Pix[g.dst.Image.Offset(0, y):]
		for x, i := range cols {
			copy(out[x*4:x*4+4], srcRow[i*4:i*4+4])
		}
		return nil
	}
}

// nearestProjected transforms one destination row at a time
func (r *Resampler) nearestProjected(g *grid, tr proj.Transformer, y int) error {
	pts := g.samples(y)
	if err := tr.Transform(pts); err != nil {
		return err
	}

	sw, sh := g.src.Image.Width, g.src.Image.Height
	out := g.dst.Image.Pix[g.dst.Image.Offset(0, y):]
	for x, p := range pts {
		xx, yy := g.pixel(p)
		i := floorIndex(xx+nearestEpsilon, sw)
		j := floorIndex(yy+nearestEpsilon, sh)
		o := g.src.Image.Offset(i, j)
		copy(out[x*4:x*4+4], g.src.Image.Pix[o:o+4])
	}
	return nil
}

// bicubic convolves the 4x4 neighbourhood of every sample point
func (r *Resampler) bicubic(g *grid, tr proj.Transformer, y int) error {
	pts := g.samples(y)
	if tr != nil {
		if err := tr.Transform(pts); err != nil {
			return err
		}
	}

	k := r.kernel
	sw, sh := g.src.Image.Width, g.src.Image.Height
	pix := g.src.Image.Pix
	out := g.dst.Image.Pix[g.dst.Image.Offset(0, y):]

	for x, p := range pts {
		xx, yy := g.pixel(p)
		// beyond two pixels outside the raster every tap is clamped anyway
		xx = math.Max(-2, math.Min(xx, float64(sw+1)))
		yy = math.Max(-2, math.Min(yy, float64(sh+1)))
		i, j := math.Floor(xx), math.Floor(yy)
		dx, dy := xx-i, yy-j

		var acc [4]float64
		for n := -1; n <= 2; n++ {
			wy := k.At(dy - float64(n))
			row := clamp(int(j)+n, 0, sh-1) * sw
			for m := -1; m <= 2; m++ {
				w := k.At(float64(m)-dx) * wy
				o := (row + clamp(int(i)+m, 0, sw-1)) * 4
				acc[0] += w * float64(pix[o])
				acc[1] += w * float64(pix[o+1])
				acc[2] += w * float64(pix[o+2])
				acc[3] += w * float64(pix[o+3])
			}
		}

		for c := 0; c < 4; c++ {
			out[x*4+c] = toByte(acc[c])
		}
	}
	return nil
}

// toByte rounds to the nearest integer, it does not truncate, then clamps
// to [0,255]
func toByte(v float64) byte {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
