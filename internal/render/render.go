// Package render produces images of arbitrary extent, size and CRS from a
// pyramid: the covering tiles are assembled into a mosaic which is then
// resampled onto the requested grid.
package render

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/kiesman99/geoquadtree/internal/logger"
	"github.com/kiesman99/geoquadtree/internal/mosaic"
	"github.com/kiesman99/geoquadtree/internal/proj"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/internal/store"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// ErrTooLarge is returned when the output or the mosaic behind it exceeds
// the pixel limit
var ErrTooLarge = mosaic.ErrTooLarge

// Options contains all rendering parameters
type Options struct {
	// Bounds is the requested extent in CRS.
	Bounds orb.Bound
	Width  int
	Height int
	// CRS of Bounds and of the output; empty means the pyramid's CRS.
	CRS    string
	Filter resample.Filter
}

// Result contains the rendered image
type Result struct {
	tile.Raster
	CRS        string
	Depth      int
	TilesFound int
	TilesTotal int
	Failed     []mosaic.FailedTile
}

// WorldFile returns the georeferencing of the result
func (r *Result) WorldFile() *tile.WorldFile {
	return tile.NewWorldFile(r.Bounds, r.Image.Width, r.Image.Height)
}

// Renderer reads from one pyramid
type Renderer struct {
	desc      *pyramid.Descriptor
	assembler *mosaic.Assembler
	resampler *resample.Resampler
	maxPixels int
	log       logrus.FieldLogger

	mosaicOpts   []mosaic.Option
	resampleOpts []resample.Option
}

// Option configures a Renderer
type Option func(*Renderer)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
			r.mosaicOpts = append(r.mosaicOpts, mosaic.WithLogger(log))
		}
	}
}

// WithMaxPixels limits both the output and the mosaic size
func WithMaxPixels(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.maxPixels = n
			r.mosaicOpts = append(r.mosaicOpts, mosaic.WithMaxPixels(n))
		}
	}
}

// WithWorkers sets the parallelism of tile loading and resampling
func WithWorkers(n int) Option {
	return func(r *Renderer) {
		r.mosaicOpts = append(r.mosaicOpts, mosaic.WithWorkers(n))
		r.resampleOpts = append(r.resampleOpts, resample.WithWorkers(n))
	}
}

// WithKernel shares a bicubic kernel table between renderers
func WithKernel(k *resample.Kernel) Option {
	return func(r *Renderer) {
		if k != nil {
			r.resampleOpts = append(r.resampleOpts, resample.WithKernel(k))
		}
	}
}

// New creates a renderer over the tiles of desc
func New(desc *pyramid.Descriptor, tiles store.Store, opts ...Option) *Renderer {
	r := &Renderer{
		desc:      desc,
		maxPixels: mosaic.MaxPixels,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resampler = resample.New(r.resampleOpts...)
	r.assembler = mosaic.New(desc, tiles, r.mosaicOpts...)
	return r
}

// Render produces the image described by opts
func (r *Renderer) Render(ctx context.Context, opts *Options) (*Result, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid size %dx%d", opts.Width, opts.Height)
	}
	if pixels := int64(opts.Width) * int64(opts.Height); pixels > int64(r.maxPixels) {
		return nil, fmt.Errorf("%w: output %dx%d", ErrTooLarge, opts.Width, opts.Height)
	}
	b := opts.Bounds
	if !(b.Max[0] > b.Min[0] && b.Max[1] > b.Min[1]) {
		return nil, fmt.Errorf("render: empty extent %v", b)
	}

	crs := opts.CRS
	if crs == "" {
		crs = r.desc.CRS
	}

	// tr maps output coordinates into the pyramid's CRS, nil when they agree
	var tr proj.Transformer
	native := b
	if !proj.Same(crs, r.desc.CRS) {
		t, err := proj.New(crs, r.desc.CRS)
		if err != nil {
			return nil, err
		}
		if native, err = proj.TransformBound(t, b); err != nil {
			return nil, err
		}
		tr = t
	}

	m, err := r.assembler.Assemble(ctx, native, opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Raster:     tile.Raster{Image: tile.NewImage(opts.Width, opts.Height), Bounds: b},
		CRS:        crs,
		Depth:      m.Depth,
		TilesFound: m.Found,
		TilesTotal: m.TilesX * m.TilesY,
		Failed:     m.Failed,
	}
	r.log.WithFields(logrus.Fields{
		"depth": m.Depth,
		"tiles": fmt.Sprintf("%d/%d", m.Found, res.TilesTotal),
	}).Debugf("rendering %v (%s) at %dx%d", b, crs, opts.Width, opts.Height)

	if m.Found == 0 {
		return res, nil
	}
	if err := r.resampler.Resample(ctx, m.Raster, res.Raster, opts.Filter, tr); err != nil {
		return nil, err
	}
	return res, nil
}
