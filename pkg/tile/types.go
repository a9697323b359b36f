package tile

import (
	"image"
	"image/color"

	"github.com/paulmach/orb"
)

// Image is an 8 bit per channel, non-premultiplied RGBA pixel buffer.
// Rows are stored top to bottom, four bytes per pixel.
type Image struct {
	Pix    []byte
	Width  int
	Height int
}

// Raster is an image together with the world extent it covers
type Raster struct {
	Image  *Image
	Bounds orb.Bound
}

// NewImage allocates a fully transparent image
func NewImage(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}
}

// Uniform allocates an image filled with a single colour
func Uniform(width, height int, c color.NRGBA) *Image {
	im := NewImage(width, height)
	im.Fill(c)
	return im
}

// Stride returns the number of bytes per row
func (im *Image) Stride() int {
	return im.Width * 4
}

// Offset returns the index of the first byte of pixel (x, y)
func (im *Image) Offset(x, y int) int {
	return (y*im.Width + x) * 4
}

// At returns the pixel at (x, y)
func (im *Image) At(x, y int) color.NRGBA {
	i := im.Offset(x, y)
	return color.NRGBA{R: im.Pix[i], G: im.Pix[i+1], B: im.Pix[i+2], A: im.Pix[i+3]}
}

// Set writes the pixel at (x, y)
func (im *Image) Set(x, y int, c color.NRGBA) {
	i := im.Offset(x, y)
	im.Pix[i] = c.R
	im.Pix[i+1] = c.G
	im.Pix[i+2] = c.B
	im.Pix[i+3] = c.A
}

// Fill sets every pixel to c
func (im *Image) Fill(c color.NRGBA) {
	for i := 0; i < len(im.Pix); i += 4 {
		im.Pix[i] = c.R
		im.Pix[i+1] = c.G
		im.Pix[i+2] = c.B
		im.Pix[i+3] = c.A
	}
}

// Clone returns a deep copy
func (im *Image) Clone() *Image {
	pix := make([]byte, len(im.Pix))
	copy(pix, im.Pix)
	return &Image{Pix: pix, Width: im.Width, Height: im.Height}
}

// IsTransparent reports whether every pixel has zero alpha
func (im *Image) IsTransparent() bool {
	for i := 3; i < len(im.Pix); i += 4 {
		if im.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// CopyFrom copies src into im with its top-left corner at (xoff, yoff).
// Pixels falling outside im are dropped.
func (im *Image) CopyFrom(src *Image, xoff, yoff int) {
	x0, x1 := max(xoff, 0), min(xoff+src.Width, im.Width)
	if x0 >= x1 {
		return
	}
	for y := 0; y < src.Height; y++ {
		yd := y + yoff
		if yd < 0 || yd >= im.Height {
			continue
		}
		copy(im.Pix[im.Offset(x0, yd):im.Offset(x1, yd)], src.Pix[src.Offset(x0-xoff, y):src.Offset(x1-xoff, y)])
	}
}

// NRGBA wraps the buffer as a standard library image without copying
func (im *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    im.Pix,
		Stride: im.Stride(),
		Rect:   image.Rect(0, 0, im.Width, im.Height),
	}
}

// FromImage converts any decoded image into an Image
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	im := NewImage(b.Dx(), b.Dy())

	if n, ok := img.(*image.NRGBA); ok && n.Stride == im.Stride() && n.Rect.Min == (image.Point{}) {
		copy(im.Pix, n.Pix)
		return im
	}

	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			im.Set(x, y, c)
		}
	}
	return im
}
