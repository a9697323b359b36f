// Package mosaic assembles the tiles covering a requested extent into one
// contiguous pixel buffer.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/geoquadtree/internal/logger"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/internal/store"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// MaxPixels is the default limit on the size of a mosaic
const MaxPixels = 10000 * 10000

// ErrTooLarge is returned when a mosaic would exceed the pixel limit
var ErrTooLarge = errors.New("mosaic: requested area too large")

// Mosaic is the assembled region of one read. Its image covers a whole
// number of tiles at a single depth; the top row lies along Bounds.Max[1].
type Mosaic struct {
	tile.Raster
	Depth     int
	PixelSize [2]float64
	TilesX    int
	TilesY    int
	// Found counts the tiles that were read and copied.
	Found int
	// Failed lists tiles that exist but could not be used.
	Failed []FailedTile
}

// FailedTile records a tile read that failed for a reason other than absence
type FailedTile struct {
	Path quadtree.Path
	Err  error
}

// Assembler loads mosaics from a pyramid
type Assembler struct {
	desc      *pyramid.Descriptor
	tiles     store.Store
	workers   int
	maxPixels int
	log       logrus.FieldLogger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithWorkers sets how many tiles are read concurrently
func WithWorkers(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithMaxPixels overrides MaxPixels
func WithMaxPixels(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxPixels = n
		}
	}
}

// WithLogger sets the logger used for unreadable tiles
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Assembler) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates an assembler over the tiles of desc
func New(desc *pyramid.Descriptor, tiles store.Store, opts ...Option) *Assembler {
	a := &Assembler{
		desc:      desc,
		tiles:     tiles,
		workers:   runtime.GOMAXPROCS(0),
		maxPixels: MaxPixels,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble loads every tile overlapping bounds, given in the pyramid's
// CRS, at the depth matching a width x height pixel rendering of it.
// Missing tiles are left transparent.
func (a *Assembler) Assemble(ctx context.Context, bounds orb.Bound, width, height int) (*Mosaic, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("mosaic: invalid size %dx%d", width, height)
	}
	if !(bounds.Max[0] > bounds.Min[0] && bounds.Max[1] > bounds.Min[1]) {
		return nil, fmt.Errorf("mosaic: empty extent %v", bounds)
	}

	d := a.desc
	depth, px, py := d.LevelForResolution(
		(bounds.Max[0]-bounds.Min[0])/float64(width),
		(bounds.Max[1]-bounds.Min[1])/float64(height),
	)

	root := d.RootExtent()
	tw, th := px*float64(d.TileSize[0]), py*float64(d.TileSize[1])

	c0 := math.Floor(pyramid.Snap((bounds.Min[0] - root.Min[0]) / tw))
	c1 := math.Ceil(pyramid.Snap((bounds.Max[0] - root.Min[0]) / tw))
	r0 := math.Floor(pyramid.Snap((root.Max[1] - bounds.Max[1]) / th))
	r1 := math.Ceil(pyramid.Snap((root.Max[1] - bounds.Min[1]) / th))
	c1 = math.Max(c1, c0+1)
	r1 = math.Max(r1, r0+1)

	pixels := (c1 - c0) * float64(d.TileSize[0]) * (r1 - r0) * float64(d.TileSize[1])
	if !(pixels <= float64(a.maxPixels)) {
		return nil, fmt.Errorf("%w: %.0f pixels at depth %d", ErrTooLarge, pixels, depth)
	}

	m := &Mosaic{
		Raster: tile.Raster{
			Image: tile.NewImage(int(c1-c0)*d.TileSize[0], int(r1-r0)*d.TileSize[1]),
			Bounds: orb.Bound{
				Min: orb.Point{root.Min[0] + c0*tw, root.Max[1] - r1*th},
				Max: orb.Point{root.Min[0] + c1*tw, root.Max[1] - r0*th},
			},
		},
		Depth:     depth,
		PixelSize: [2]float64{px, py},
		TilesX:    int(c1 - c0),
		TilesY:    int(r1 - r0),
	}

	var (
		found atomic.Int32
		mu    sync.Mutex
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.workers)
	for row := 0; row < m.TilesY; row++ {
		for col := 0; col < m.TilesX; col++ {
			if gctx.Err() != nil {
				break
			}
			row, col := row, col
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				center := d.TileCenter(depth, int(c0)+col, int(r0)+row)
				path, err := d.Locate(center, depth)
				if err != nil {
					return nil
				}

				ok, err := a.load(m, path, col, row)
				if err != nil {
					a.log.WithField("tile", path.String()).Warnf("skipping unreadable tile: %v", err)
					mu.Lock()
					m.Failed = append(m.Failed, FailedTile{Path: path, Err: err})
					mu.Unlock()
					return nil
				}
				if ok {
					found.Add(1)
				}
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.Found = int(found.Load())
	return m, nil
}

// load copies one tile into the mosaic. Tiles occupy disjoint regions so
// concurrent loads need no locking.
func (a *Assembler) load(m *Mosaic, path quadtree.Path, col, row int) (bool, error) {
	im, err := a.tiles.Read(path)
	if errors.Is(err, store.ErrTileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tsx, tsy := a.desc.TileSize[0], a.desc.TileSize[1]
	if im.Width != tsx || im.Height != tsy {
		return false, fmt.Errorf("wrong tile size: got %dx%d, expected %dx%d", im.Width, im.Height, tsx, tsy)
	}

	m.Image.CopyFrom(im, col*tsx, row*tsy)
	return true, nil
}
