package builder

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/internal/store"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func bound(minx, miny, maxx, maxy float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minx, miny}, Max: orb.Point{maxx, maxy}}
}

// newPyramid creates the pyramid with a [-4,4] root extent, 2x2 pixel tiles and two levels
func newPyramid(t *testing.T) *pyramid.Pyramid {
	t.Helper()
	pyr, err := pyramid.Create(t.TempDir(), &pyramid.Descriptor{
		CRS:       "EPSG:3857",
		Levels:    2,
		TileSize:  [2]int{2, 2},
		PixelSize: [2]float64{1, 1},
	})
	require.NoError(t, err)
	return pyr
}

func path(t *testing.T, s string) quadtree.Path {
	t.Helper()
	p, err := quadtree.ParsePath(s)
	require.NoError(t, err)
	return p
}

func requireUniform(t *testing.T, im *tile.Image, c color.NRGBA) {
	t.Helper()
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			require.Equal(t, c, im.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestImportCentredImage(t *testing.T) {
	pyr := newPyramid(t)
	src := &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)}

	stats, err := New(pyr).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Leaves)
	assert.Equal(t, 5, stats.Overviews)
	assert.NotEmpty(t, stats.Job)

	for _, s := range []string{"1/3", "2/4", "3/1", "4/2"} {
		im, err := pyr.Tiles.Read(path(t, s))
		require.NoError(t, err, s)
		requireUniform(t, im, red)
	}
	_, err = pyr.Tiles.Read(path(t, "1/1"))
	assert.ErrorIs(t, err, store.ErrTileNotFound)

	// each depth one tile holds a single red pixel next to the centre
	one, err := pyr.Tiles.Read(path(t, "1"))
	require.NoError(t, err)
	assert.Equal(t, red, one.At(1, 1))
	assert.Equal(t, color.NRGBA{}, one.At(0, 0))
	two, err := pyr.Tiles.Read(path(t, "2"))
	require.NoError(t, err)
	assert.Equal(t, red, two.At(0, 1))
	assert.Equal(t, color.NRGBA{}, two.At(1, 0))

	root, err := pyr.Tiles.Read(quadtree.Root)
	require.NoError(t, err)
	requireUniform(t, root, color.NRGBA{R: 255, A: 64})

	require.NotNil(t, pyr.Descriptor.BoundingBox)
	assert.Equal(t, bound(-2, -2, 2, 2), *pyr.Descriptor.BoundingBox)

	reopened, err := pyramid.Open(pyr.Dir)
	require.NoError(t, err)
	assert.Equal(t, pyr.Descriptor.BoundingBox, reopened.Descriptor.BoundingBox)
}

func TestImportConstantColourOverviews(t *testing.T) {
	pyr := newPyramid(t)
	c := color.NRGBA{R: 30, G: 140, B: 220, A: 255}

	stats, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(8, 8, c), Bounds: bound(-4, -4, 4, 4)})
	require.NoError(t, err)
	assert.Equal(t, 16, stats.Leaves)
	assert.Equal(t, 5, stats.Overviews)

	for _, s := range []string{"", "1", "2", "3", "4", "3/2"} {
		im, err := pyr.Tiles.Read(path(t, s))
		require.NoError(t, err, s)
		requireUniform(t, im, c)
	}
}

func TestImportIdempotent(t *testing.T) {
	pyr := newPyramid(t)
	fs := pyr.Tiles.(*store.FileStore)
	src := &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)}
	leaves := []string{"1/3", "2/4", "3/1", "4/2"}

	_, err := New(pyr).Import(context.Background(), src)
	require.NoError(t, err)
	first := map[string][]byte{}
	for _, s := range leaves {
		data, err := os.ReadFile(fs.Filename(path(t, s)))
		require.NoError(t, err)
		first[s] = data
	}

	_, err = New(pyr).Import(context.Background(), src)
	require.NoError(t, err)
	for _, s := range leaves {
		data, err := os.ReadFile(fs.Filename(path(t, s)))
		require.NoError(t, err)
		assert.Equal(t, first[s], data, s)
	}
}

func TestImportNoData(t *testing.T) {
	pyr := newPyramid(t)
	im := tile.Uniform(4, 4, red)
	for y := 0; y < 4; y++ {
		im.Set(0, y, white)
		im.Set(1, y, white)
	}
	nodata := color.NRGBA{R: 255, G: 255, B: 255}

	stats, err := New(pyr).Import(context.Background(), &Source{Image: im, Bounds: bound(-2, -2, 2, 2), NoData: &nodata})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Leaves)
	assert.Equal(t, bound(0, -2, 2, 2), stats.Bounds)
	assert.Equal(t, bound(0, -2, 2, 2), *pyr.Descriptor.BoundingBox)

	_, err = pyr.Tiles.Read(path(t, "1/3"))
	assert.ErrorIs(t, err, store.ErrTileNotFound)
	leaf, err := pyr.Tiles.Read(path(t, "2/4"))
	require.NoError(t, err)
	requireUniform(t, leaf, red)

	// the caller's image is left untouched
	assert.Equal(t, white, im.At(0, 0))
}

func TestImportAllNoData(t *testing.T) {
	pyr := newPyramid(t)
	nodata := white

	_, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, white), Bounds: bound(-2, -2, 2, 2), NoData: &nodata})
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, pyr.Descriptor.BoundingBox)

	_, err = pyr.Tiles.Read(quadtree.Root)
	assert.ErrorIs(t, err, store.ErrTileNotFound)
}

func TestImportFusesOverlapping(t *testing.T) {
	pyr := newPyramid(t)
	b := New(pyr)
	blue := color.NRGBA{B: 255, A: 128}

	_, err := b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(-2, 0, 0, 2)})
	require.NoError(t, err)
	_, err = b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, blue), Bounds: bound(-2, 0, 0, 2)})
	require.NoError(t, err)

	leaf, err := pyr.Tiles.Read(path(t, "1/3"))
	require.NoError(t, err)
	requireUniform(t, leaf, color.NRGBA{R: 127, B: 128, A: 191})
}

func TestImportAdjoining(t *testing.T) {
	pyr := newPyramid(t)
	b := New(pyr)

	_, err := b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(-2, 0, 0, 2)})
	require.NoError(t, err)
	_, err = b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(0, 0, 2, 2)})
	require.NoError(t, err)

	for _, s := range []string{"1/3", "2/4"} {
		_, err := pyr.Tiles.Read(path(t, s))
		require.NoError(t, err, s)
	}
	assert.Equal(t, bound(-2, 0, 2, 2), *pyr.Descriptor.BoundingBox)

	// the root reflects both imports
	root, err := pyr.Tiles.Read(quadtree.Root)
	require.NoError(t, err)
	assert.Equal(t, uint8(64), root.At(0, 0).A)
	assert.Equal(t, uint8(64), root.At(1, 0).A)
	assert.Equal(t, uint8(0), root.At(0, 1).A)
}

func TestImportOutsideRoot(t *testing.T) {
	pyr := newPyramid(t)

	_, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(10, 10, 12, 12)})
	assert.ErrorIs(t, err, pyramid.ErrOutOfBounds)
}

func TestImportClipsToRoot(t *testing.T) {
	pyr := newPyramid(t)

	stats, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(2, 2, 6, 6)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Leaves)
	assert.Equal(t, bound(2, 2, 4, 4), *pyr.Descriptor.BoundingBox)

	leaf, err := pyr.Tiles.Read(path(t, "2/2"))
	require.NoError(t, err)
	requireUniform(t, leaf, red)
}

func TestImportResamplesCoarseSource(t *testing.T) {
	pyr := newPyramid(t)

	b := New(pyr, WithFilter(resample.Bicubic), WithResampler(resample.New(resample.WithWorkers(1))))
	stats, err := b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(-2, -2, 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Leaves)

	for _, s := range []string{"1/3", "2/4", "3/1", "4/2"} {
		im, err := pyr.Tiles.Read(path(t, s))
		require.NoError(t, err, s)
		requireUniform(t, im, red)
	}
}

func TestImportProgress(t *testing.T) {
	pyr := newPyramid(t)
	last := map[Phase][2]int{}
	progress := func(phase Phase, done, total int) {
		last[phase] = [2]int{done, total}
	}

	_, err := New(pyr, WithProgress(progress)).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, [2]int{4, 4}, last[PhaseLeaves])
	assert.Equal(t, [2]int{5, 5}, last[PhaseOverviews])
}

func TestImportRejectsBadSource(t *testing.T) {
	pyr := newPyramid(t)
	b := New(pyr)

	_, err := b.Import(context.Background(), &Source{})
	assert.Error(t, err)
	_, err = b.Import(context.Background(), &Source{Image: tile.Uniform(2, 2, red), Bounds: bound(2, 2, 2, 2)})
	assert.Error(t, err)
}

func TestImportCancelled(t *testing.T) {
	pyr := newPyramid(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(pyr).Import(ctx, &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownsample(t *testing.T) {
	src := tile.NewImage(4, 2)
	src.Set(0, 0, color.NRGBA{R: 200, A: 255})
	src.Set(1, 0, color.NRGBA{R: 100, A: 255})
	src.Set(0, 1, color.NRGBA{G: 255, A: 0})
	src.Set(1, 1, color.NRGBA{R: 0, A: 255})

	dst := downsample(src)
	require.Equal(t, 2, dst.Width)
	require.Equal(t, 1, dst.Height)
	// transparent pixels do not contribute colour
	assert.Equal(t, color.NRGBA{R: 100, A: 191}, dst.At(0, 0))
	assert.Equal(t, color.NRGBA{}, dst.At(1, 0))
}

func TestFloorCeilDiv(t *testing.T) {
	assert.Equal(t, -1, floorDiv(-1, 2))
	assert.Equal(t, -1, floorDiv(-2, 2))
	assert.Equal(t, 1, floorDiv(3, 2))
	assert.Equal(t, 0, ceilDiv(-1, 2))
	assert.Equal(t, 2, ceilDiv(3, 2))
	assert.Equal(t, 2, ceilDiv(4, 2))
}

// writeJunk stores bytes that no codec can decode as the tile at p
func writeJunk(t *testing.T, pyr *pyramid.Pyramid, p string) {
	t.Helper()
	name := pyr.Tiles.(*store.FileStore).Filename(path(t, p))
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte("not an image"), 0o644))
}

func TestImportAbortsOnCorruptLeaf(t *testing.T) {
	pyr := newPyramid(t)
	writeJunk(t, pyr, "1/3")

	_, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)})
	assert.ErrorIs(t, err, tile.ErrDecode)
	assert.ErrorContains(t, err, "write leaf 1/3")
	assert.Nil(t, pyr.Descriptor.BoundingBox)

	reopened, err := pyramid.Open(pyr.Dir)
	require.NoError(t, err)
	assert.Nil(t, reopened.Descriptor.BoundingBox)
}

func TestImportAbortsOnCorruptSibling(t *testing.T) {
	pyr := newPyramid(t)
	// 1/1 is not touched by the import but is read to rebuild overview 1
	writeJunk(t, pyr, "1/1")

	_, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)})
	assert.ErrorIs(t, err, tile.ErrDecode)
	assert.ErrorContains(t, err, "read children of 1")
	assert.Nil(t, pyr.Descriptor.BoundingBox)
}

// failingStore rejects every write of the wrapped store
type failingStore struct {
	store.Store
	merge bool
}

func (s *failingStore) Write(p quadtree.Path, im *tile.Image) error {
	return fmt.Errorf("%w: %s: disk full", tile.ErrEncode, p)
}

func (s *failingStore) Merge(p quadtree.Path, im *tile.Image) error {
	if s.merge {
		return fmt.Errorf("%w: %s: disk full", tile.ErrEncode, p)
	}
	return s.Store.Merge(p, im)
}

func TestImportAbortsOnWriteFailure(t *testing.T) {
	testCases := []struct {
		name    string
		merge   bool
		message string
	}{
		{name: "leaf", merge: true, message: "write leaf"},
		{name: "overview", merge: false, message: "write overview"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pyr := newPyramid(t)
			pyr.Tiles = &failingStore{Store: pyr.Tiles, merge: tc.merge}

			_, err := New(pyr).Import(context.Background(), &Source{Image: tile.Uniform(4, 4, red), Bounds: bound(-2, -2, 2, 2)})
			assert.ErrorIs(t, err, tile.ErrEncode)
			assert.ErrorContains(t, err, tc.message)
			assert.Nil(t, pyr.Descriptor.BoundingBox)

			_, err = os.Stat(filepath.Join(pyr.Dir, pyramid.DescriptorFile))
			require.NoError(t, err)
			reopened, err := pyramid.Open(pyr.Dir)
			require.NoError(t, err)
			assert.Nil(t, reopened.Descriptor.BoundingBox)
		})
	}
}
