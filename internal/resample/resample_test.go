package resample

import (
	"context"
	"image/color"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/geoquadtree/pkg/tile"
)

func bound(minx, miny, maxx, maxy float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minx, miny}, Max: orb.Point{maxx, maxy}}
}

func noise(w, h int, seed int64) *tile.Image {
	rng := rand.New(rand.NewSource(seed))
	im := tile.NewImage(w, h)
	rng.Read(im.Pix)
	return im
}

func TestKernelValues(t *testing.T) {
	assert.InDelta(t, 2.0/3, cubic(0), 1e-12)
	assert.InDelta(t, 1.0/6, cubic(1), 1e-12)
	assert.InDelta(t, 1.0/6, cubic(-1), 1e-12)
	assert.InDelta(t, 0, cubic(2), 1e-12)
	assert.InDelta(t, 0, cubic(-2), 1e-12)
	assert.InDelta(t, 0, cubic(-3), 1e-12)

	k := NewKernel()
	for _, x := range []float64{-4, -2.5, -1, -0.3, 0, 0.7, 1.5, 2, 4} {
		assert.InDelta(t, cubic(x), k.At(x), 1e-4, "x=%v", x)
	}
	// outside the table the formula is used
	assert.Equal(t, cubic(4.5), k.At(4.5))
}

func TestKernelPartitionOfUnity(t *testing.T) {
	k := NewKernel()
	for _, dx := range []float64{0, 0.1, 0.25, 0.5, 0.9, 0.999} {
		sum := 0.0
		for m := -1; m <= 2; m++ {
			sum += k.At(float64(m) - dx)
		}
		assert.InDelta(t, 1, sum, 1e-3, "dx=%v", dx)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("Bicubic")
	require.NoError(t, err)
	assert.Equal(t, Bicubic, f)

	f, err = ParseFilter("0")
	require.NoError(t, err)
	assert.Equal(t, Nearest, f)

	_, err = ParseFilter("lanczos")
	assert.Error(t, err)
}

func TestNearestIdentity(t *testing.T) {
	src := tile.Raster{Image: noise(7, 5, 1), Bounds: bound(10, 20, 17, 25)}
	dst := tile.Raster{Image: tile.NewImage(7, 5), Bounds: src.Bounds}

	require.NoError(t, New().Resample(context.Background(), src, dst, Nearest, nil))
	assert.Equal(t, src.Image.Pix, dst.Image.Pix)
}

func TestNearestIdentityFractionalResolution(t *testing.T) {
	src := tile.Raster{Image: noise(30, 20, 2), Bounds: bound(0, 0, 3, 2)}
	dst := tile.Raster{Image: tile.NewImage(10, 10), Bounds: bound(1, 0.5, 2, 1.5)}

	require.NoError(t, New().Resample(context.Background(), src, dst, Nearest, nil))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			assert.Equal(t, src.Image.At(x+10, y+5), dst.Image.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestNearestDownsampleTruncates(t *testing.T) {
	src := tile.Raster{Image: noise(4, 4, 3), Bounds: bound(0, 0, 4, 4)}
	dst := tile.Raster{Image: tile.NewImage(2, 2), Bounds: src.Bounds}

	require.NoError(t, New().Resample(context.Background(), src, dst, Nearest, nil))
	assert.Equal(t, src.Image.At(0, 0), dst.Image.At(0, 0))
	assert.Equal(t, src.Image.At(2, 0), dst.Image.At(1, 0))
	assert.Equal(t, src.Image.At(0, 2), dst.Image.At(0, 1))
	assert.Equal(t, src.Image.At(2, 2), dst.Image.At(1, 1))
}

func TestNearestClampsOutside(t *testing.T) {
	src := tile.Raster{Image: noise(2, 2, 4), Bounds: bound(0, 0, 2, 2)}
	dst := tile.Raster{Image: tile.NewImage(4, 4), Bounds: bound(-1, -1, 3, 3)}

	require.NoError(t, New().Resample(context.Background(), src, dst, Nearest, nil))
	assert.Equal(t, src.Image.At(0, 0), dst.Image.At(0, 0))
	assert.Equal(t, src.Image.At(1, 1), dst.Image.At(3, 3))
	assert.Equal(t, src.Image.At(1, 0), dst.Image.At(3, 0))
}

// shiftTransformer offsets points and counts calls
type shiftTransformer struct {
	dx, dy float64
	calls  atomic.Int32
}

func (s *shiftTransformer) Transform(pts []orb.Point) error {
	s.calls.Add(1)
	for i := range pts {
		pts[i][0] += s.dx
		pts[i][1] += s.dy
	}
	return nil
}

func TestNearestProjectedBatchesPerRow(t *testing.T) {
	src := tile.Raster{Image: noise(8, 8, 5), Bounds: bound(100, 100, 108, 108)}
	dst := tile.Raster{Image: tile.NewImage(4, 6), Bounds: bound(0, 0, 4, 6)}
	tr := &shiftTransformer{dx: 102, dy: 101}

	require.NoError(t, New().Resample(context.Background(), src, dst, Nearest, tr))

	assert.Equal(t, int32(6), tr.calls.Load())
	// destination (0,0) corner is world (0,6) -> (102,107) -> source pixel (2,1)
	assert.Equal(t, src.Image.At(2, 1), dst.Image.At(0, 0))
	assert.Equal(t, src.Image.At(5, 6), dst.Image.At(3, 5))
}

func TestNearestProjectedMatchesAligned(t *testing.T) {
	src := tile.Raster{Image: noise(16, 16, 6), Bounds: bound(0, 0, 16, 16)}
	aligned := tile.Raster{Image: tile.NewImage(5, 7), Bounds: bound(1, 2, 11, 16)}
	projected := tile.Raster{Image: tile.NewImage(5, 7), Bounds: aligned.Bounds}

	r := New()
	require.NoError(t, r.Resample(context.Background(), src, aligned, Nearest, nil))
	require.NoError(t, r.Resample(context.Background(), src, projected, Nearest, &shiftTransformer{}))
	assert.Equal(t, aligned.Image.Pix, projected.Image.Pix)
}

func TestBicubicConstantColour(t *testing.T) {
	c := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	src := tile.Raster{Image: tile.Uniform(8, 8, c), Bounds: bound(0, 0, 8, 8)}
	dst := tile.Raster{Image: tile.NewImage(13, 5), Bounds: bound(-1, 0.5, 9.3, 7)}

	require.NoError(t, New().Resample(context.Background(), src, dst, Bicubic, nil))
	for y := 0; y < 5; y++ {
		for x := 0; x < 13; x++ {
			require.Equal(t, c, dst.Image.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestBicubicClampsChannels(t *testing.T) {
	src := tile.Raster{Image: tile.NewImage(4, 1), Bounds: bound(0, 0, 4, 1)}
	src.Image.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Image.Set(1, 0, color.NRGBA{A: 255})
	src.Image.Set(2, 0, color.NRGBA{R: 255, A: 255})
	src.Image.Set(3, 0, color.NRGBA{A: 255})
	dst := tile.Raster{Image: tile.NewImage(8, 2), Bounds: src.Bounds}

	require.NoError(t, New().Resample(context.Background(), src, dst, Bicubic, nil))
	for y := 0; y < 2; y++ {
		for x := 0; x < 8; x++ {
			assert.Equal(t, uint8(255), dst.Image.At(x, y).A)
		}
	}
}

func TestParallelRowsMatchSequential(t *testing.T) {
	src := tile.Raster{Image: noise(32, 24, 7), Bounds: bound(0, 0, 32, 24)}

	for _, f := range []Filter{Nearest, Bicubic} {
		seq := tile.Raster{Image: tile.NewImage(21, 17), Bounds: bound(3, 1, 29, 20)}
		par := tile.Raster{Image: tile.NewImage(21, 17), Bounds: seq.Bounds}

		require.NoError(t, New(WithWorkers(1)).Resample(context.Background(), src, seq, f, nil))
		require.NoError(t, New(WithWorkers(8)).Resample(context.Background(), src, par, f, nil))
		assert.Equal(t, seq.Image.Pix, par.Image.Pix, f.String())
	}
}

func TestResampleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := tile.Raster{Image: noise(4, 4, 8), Bounds: bound(0, 0, 4, 4)}
	dst := tile.Raster{Image: tile.NewImage(4, 4), Bounds: src.Bounds}
	assert.ErrorIs(t, New().Resample(ctx, src, dst, Bicubic, nil), context.Canceled)
}

func TestToByteRoundsToNearest(t *testing.T) {
	assert.Equal(t, byte(128), toByte(127.5))
	assert.Equal(t, byte(127), toByte(127.4))
	assert.Equal(t, byte(255), toByte(254.6))
	assert.Equal(t, byte(0), toByte(-3))
	assert.Equal(t, byte(255), toByte(300))
}

func TestWithKernelSharesTable(t *testing.T) {
	k := NewKernel()
	a, b := New(WithKernel(k)), New(WithKernel(k))
	assert.Same(t, k, a.kernel)
	assert.Same(t, a.kernel, b.kernel)
	assert.NotSame(t, k, New().kernel)
}
