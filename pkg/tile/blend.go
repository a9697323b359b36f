package tile

import "fmt"

// Over fuses src over dst in place. Every channel, alpha included, is blended
// with the source pixel's own alpha:
//
//	out = (src*a + dst*(255-a)) / 255
//
// using integer arithmetic. Both images must have the same dimensions.
func Over(dst, src *Image) error {
	if dst.Width != src.Width || dst.Height != src.Height {
		return fmt.Errorf("tile: cannot fuse %dx%d over %dx%d", src.Width, src.Height, dst.Width, dst.Height)
	}

	for i := 0; i < len(src.Pix); i += 4 {
		a := int(src.Pix[i+3])
		switch a {
		case 0:
			continue
		case 255:
			copy(dst.Pix[i:i+4], src.Pix[i:i+4])
			continue
		}
		for c := 0; c < 4; c++ {
			dst.Pix[i+c] = byte((int(src.Pix[i+c])*a + int(dst.Pix[i+c])*(255-a)) / 255)
		}
	}
	return nil
}
