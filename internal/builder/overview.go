package builder

import (
	"errors"

	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/internal/store"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// childOffset returns the position of a child tile inside its parent's
// 2x2 assembly buffer, in tiles
func childOffset(q quadtree.Quadrant) (int, int) {
	x, y := 0, 0
	if q.East() {
		x = 1
	}
	if !q.North() {
		y = 1
	}
	return x, y
}

// assemble loads the four children of parent into one buffer of twice the
// tile size. Missing children stay transparent.
func assemble(tiles store.Store, parent quadtree.Path, tsx, tsy int) (*tile.Image, error) {
	buf := tile.NewImage(2*tsx, 2*tsy)
	for _, q := range quadtree.Quadrants {
		im, err := tiles.Read(parent.Child(q))
		if errors.Is(err, store.ErrTileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		x, y := childOffset(q)
		buf.CopyFrom(im, x*tsx, y*tsy)
	}
	return buf, nil
}

// downsample halves src along both axes. Colour is averaged weighted by
// alpha, alpha itself is the plain mean of the 2x2 block.
func downsample(src *tile.Image) *tile.Image {
	dst := tile.NewImage(src.Width/2, src.Height/2)
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			var sum [3]int
			alpha := 0
			for _, o := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
				i := src.Offset(2*x+o[0], 2*y+o[1])
				a := int(src.Pix[i+3])
				sum[0] += int(src.Pix[i]) * a
				sum[1] += int(src.Pix[i+1]) * a
				sum[2] += int(src.Pix[i+2]) * a
				alpha += a
			}
			if alpha == 0 {
				continue
			}
			j := dst.Offset(x, y)
			dst.Pix[j] = byte((sum[0] + alpha/2) / alpha)
			dst.Pix[j+1] = byte((sum[1] + alpha/2) / alpha)
			dst.Pix[j+2] = byte((sum[2] + alpha/2) / alpha)
			dst.Pix[j+3] = byte((alpha + 2) / 4)
		}
	}
	return dst
}
