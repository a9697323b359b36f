// Package builder imports georeferenced images into a pyramid. Leaf tiles
// are fused with existing content and the overview tiles above them are
// regenerated bottom-up.
package builder

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/kiesman99/geoquadtree/internal/logger"
	"github.com/kiesman99/geoquadtree/internal/mosaic"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// ErrNoData is returned when every source pixel is transparent or matches
// the non-data colour
var ErrNoData = errors.New("builder: source holds no data")

// Source is a decoded image and the north-up world extent it covers, in
// the pyramid's CRS
type Source struct {
	Image  *tile.Image
	Bounds orb.Bound
	// NoData marks pixels of this RGB colour as transparent. Alpha is ignored.
	NoData *color.NRGBA
}

// Phase identifies a stage of an import
type Phase string

const (
	PhaseLeaves    Phase = "leaves"
	PhaseOverviews Phase = "overviews"
)

// Progress is called after every tile processed in a phase
type Progress func(phase Phase, done, total int)

// Stats summarises one import
type Stats struct {
	Job       string
	Leaves    int
	Overviews int
	// Bounds is the effective extent of the imported data.
	Bounds orb.Bound
}

// Builder imports sources into one pyramid. It assumes it is the only
// writer of that pyramid.
type Builder struct {
	pyr       *pyramid.Pyramid
	resampler *resample.Resampler
	filter    resample.Filter
	progress  Progress
	log       logrus.FieldLogger
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// WithProgress registers a progress callback
func WithProgress(p Progress) Option {
	return func(b *Builder) {
		b.progress = p
	}
}

// WithFilter selects the filter used when a source's pixel size differs
// from the pyramid's
func WithFilter(f resample.Filter) Option {
	return func(b *Builder) {
		b.filter = f
	}
}

// WithResampler overrides the resampler
func WithResampler(r *resample.Resampler) Option {
	return func(b *Builder) {
		if r != nil {
			b.resampler = r
		}
	}
}

// New creates a builder for pyr
func New(pyr *pyramid.Pyramid, opts ...Option) *Builder {
	b := &Builder{
		pyr:      pyr,
		filter:   resample.Nearest,
		progress: func(Phase, int, int) {},
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.resampler == nil {
		b.resampler = resample.New()
	}
	return b
}

// placed is a source aligned to the leaf pixel grid. (x, y) is the grid
// position of its top-left pixel, counted from the root's top-left corner.
type placed struct {
	im   *tile.Image
	x, y int
}

// Import writes src into the pyramid and updates the descriptor's bounding box
func (b *Builder) Import(ctx context.Context, src *Source) (*Stats, error) {
	if err := validate(src); err != nil {
		return nil, err
	}

	job, err := shortid.Generate()
	if err != nil {
		return nil, err
	}
	log := b.log.WithField("job", job)
	d := b.pyr.Descriptor

	im := src.Image
	if src.NoData != nil {
		im = maskNoData(im, *src.NoData)
	}
	effective, ok := dataBounds(im, src.Bounds)
	if !ok {
		return nil, ErrNoData
	}

	p, err := b.align(ctx, im, src.Bounds)
	if err != nil {
		return nil, err
	}

	tsx, tsy := d.TileSize[0], d.TileSize[1]
	n := d.TilesPerAxis(d.Levels)
	tx0, tx1 := floorDiv(p.x, tsx), ceilDiv(p.x+p.im.Width, tsx)
	ty0, ty1 := floorDiv(p.y, tsy), ceilDiv(p.y+p.im.Height, tsy)
	if tx0 < 0 || ty0 < 0 || tx1 > n || ty1 > n {
		log.Warnf("source %v extends beyond root extent %v, clipping", src.Bounds, d.RootExtent())
	}
	tx0, ty0 = max(tx0, 0), max(ty0, 0)
	tx1, ty1 = min(tx1, n), min(ty1, n)
	if tx0 >= tx1 || ty0 >= ty1 {
		return nil, fmt.Errorf("%w: source %v, root %v", pyramid.ErrOutOfBounds, src.Bounds, d.RootExtent())
	}

	log.Infof("importing %dx%d pixels into leaf tiles [%d,%d)x[%d,%d)", p.im.Width, p.im.Height, tx0, tx1, ty0, ty1)

	stats := &Stats{Job: job, Bounds: effective}
	touched := make(map[quadtree.Path]struct{})
	total, done := (tx1-tx0)*(ty1-ty0), 0
	for ty := ty0; ty < ty1; ty++ {
		for tx := tx0; tx < tx1; tx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			done++

			leaf := tile.NewImage(tsx, tsy)
			leaf.CopyFrom(p.im, p.x-tx*tsx, p.y-ty*tsy)
			if leaf.IsTransparent() {
				b.progress(PhaseLeaves, done, total)
				continue
			}

			path, err := d.Locate(d.TileCenter(d.Levels, tx, ty), d.Levels)
			if err != nil {
				return nil, err
			}
			if err := b.pyr.Tiles.Merge(path, leaf); err != nil {
				return nil, fmt.Errorf("write leaf %s: %w", path, err)
			}
			touched[path] = struct{}{}
			stats.Leaves++
			b.progress(PhaseLeaves, done, total)
		}
	}
	log.Debugf("wrote %d leaf tiles", stats.Leaves)

	if stats.Overviews, err = b.overviews(ctx, touched); err != nil {
		return nil, err
	}
	log.Debugf("regenerated %d overview tiles", stats.Overviews)

	root := d.RootExtent()
	clipped := orb.Bound{
		Min: orb.Point{math.Max(effective.Min[0], root.Min[0]), math.Max(effective.Min[1], root.Min[1])},
		Max: orb.Point{math.Min(effective.Max[0], root.Max[0]), math.Min(effective.Max[1], root.Max[1])},
	}
	if clipped.Min[0] <= clipped.Max[0] && clipped.Min[1] <= clipped.Max[1] {
		d.ExtendBoundingBox(clipped)
	}
	if err := b.pyr.Save(); err != nil {
		return nil, err
	}

	log.Infof("import finished: %d leaves, %d overviews", stats.Leaves, stats.Overviews)
	return stats, nil
}

// overviews rebuilds every ancestor of the touched leaves, deepest first.
// Each parent is rebuilt once per import.
func (b *Builder) overviews(ctx context.Context, leaves map[quadtree.Path]struct{}) (int, error) {
	d := b.pyr.Descriptor

	levels := make([][]quadtree.Path, 0, d.Levels)
	current := leaves
	total := 0
	for depth := d.Levels - 1; depth >= 0; depth-- {
		parents := make(map[quadtree.Path]struct{}, len(current)/2+1)
		for p := range current {
			parents[p.Parent()] = struct{}{}
		}
		sorted := make([]quadtree.Path, 0, len(parents))
		for p := range parents {
			sorted = append(sorted, p)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

		levels = append(levels, sorted)
		total += len(sorted)
		current = parents
	}

	done := 0
	for _, paths := range levels {
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return done, err
			}
			buf, err := assemble(b.pyr.Tiles, p, d.TileSize[0], d.TileSize[1])
			if err != nil {
				return done, fmt.Errorf("read children of %s: %w", p, err)
			}
			if err := b.pyr.Tiles.Write(p, downsample(buf)); err != nil {
				return done, fmt.Errorf("write overview %s: %w", p, err)
			}
			done++
			b.progress(PhaseOverviews, done, total)
		}
	}
	return done, nil
}

// align places im on the leaf pixel grid. Sources whose pixel size matches
// the pyramid are offset by whole pixels, others are resampled first.
func (b *Builder) align(ctx context.Context, im *tile.Image, bounds orb.Bound) (*placed, error) {
	d := b.pyr.Descriptor
	root := d.RootExtent()
	px, py := d.PixelSize[0], d.PixelSize[1]
	sx := (bounds.Max[0] - bounds.Min[0]) / float64(im.Width)
	sy := (bounds.Max[1] - bounds.Min[1]) / float64(im.Height)

	if math.Abs(sx-px) <= 1e-9*px && math.Abs(sy-py) <= 1e-9*py {
		return &placed{
			im: im,
			x:  int(math.Round((bounds.Min[0] - root.Min[0]) / px)),
			y:  int(math.Round((root.Max[1] - bounds.Max[1]) / py)),
		}, nil
	}

	c0 := math.Floor(pyramid.Snap((bounds.Min[0] - root.Min[0]) / px))
	c1 := math.Ceil(pyramid.Snap((bounds.Max[0] - root.Min[0]) / px))
	r0 := math.Floor(pyramid.Snap((root.Max[1] - bounds.Max[1]) / py))
	r1 := math.Ceil(pyramid.Snap((root.Max[1] - bounds.Min[1]) / py))
	if pixels := (c1 - c0) * (r1 - r0); !(pixels <= mosaic.MaxPixels) {
		return nil, fmt.Errorf("%w: resampled source needs %.0f pixels", mosaic.ErrTooLarge, pixels)
	}

	b.log.Infof("resampling source from %gx%g to %gx%g pixel size (%s)", sx, sy, px, py, b.filter)
	dst := tile.Raster{
		Image: tile.NewImage(int(c1-c0), int(r1-r0)),
		Bounds: orb.Bound{
			Min: orb.Point{root.Min[0] + c0*px, root.Max[1] - r1*py},
			Max: orb.Point{root.Min[0] + c1*px, root.Max[1] - r0*py},
		},
	}
	src := tile.Raster{Image: im, Bounds: bounds}
	if err := b.resampler.Resample(ctx, src, dst, b.filter, nil); err != nil {
		return nil, err
	}
	return &placed{im: dst.Image, x: int(c0), y: int(r0)}, nil
}

func validate(src *Source) error {
	if src == nil || src.Image == nil || src.Image.Width <= 0 || src.Image.Height <= 0 {
		return errors.New("builder: empty source image")
	}
	b := src.Bounds
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("builder: non-finite source bounds %v", b)
		}
	}
	if !(b.Max[0] > b.Min[0] && b.Max[1] > b.Min[1]) {
		return fmt.Errorf("builder: empty source bounds %v", b)
	}
	return nil
}

// maskNoData returns a copy of im with every pixel of colour c cleared
func maskNoData(im *tile.Image, c color.NRGBA) *tile.Image {
	out := im.Clone()
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] == c.R && out.Pix[i+1] == c.G && out.Pix[i+2] == c.B {
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = 0, 0, 0, 0
		}
	}
	return out
}

// dataBounds returns the world extent of the pixels of im with non-zero alpha
func dataBounds(im *tile.Image, bounds orb.Bound) (orb.Bound, bool) {
	x0, y0, x1, y1 := im.Width, im.Height, -1, -1
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			if im.Pix[im.Offset(x, y)+3] == 0 {
				continue
			}
			x0, x1 = min(x0, x), max(x1, x)
			y0, y1 = min(y0, y), max(y1, y)
		}
	}
	if x1 < 0 {
		return orb.Bound{}, false
	}
	if x0 == 0 && y0 == 0 && x1 == im.Width-1 && y1 == im.Height-1 {
		return bounds, true
	}

	sx := (bounds.Max[0] - bounds.Min[0]) / float64(im.Width)
	sy := (bounds.Max[1] - bounds.Min[1]) / float64(im.Height)
	return orb.Bound{
		Min: orb.Point{bounds.Min[0] + float64(x0)*sx, bounds.Max[1] - float64(y1+1)*sy},
		Max: orb.Point{bounds.Min[0] + float64(x1+1)*sx, bounds.Max[1] - float64(y0)*sy},
	}, true
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}
