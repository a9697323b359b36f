package tile

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

var (
	// ErrDecode is returned when image data cannot be decoded
	ErrDecode = errors.New("tile: decode failed")
	// ErrEncode is returned when an image cannot be encoded or written
	ErrEncode = errors.New("tile: encode failed")
	// ErrUnknownFormat is returned for unsupported extensions and MIME types
	ErrUnknownFormat = errors.New("tile: unknown image format")
)

// Format identifies an image encoding
type Format int

// Supported formats
const (
	FormatPNG Format = iota
	FormatJPEG
	FormatTIFF
	FormatBMP
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatTIFF:
		return "tiff"
	case FormatBMP:
		return "bmp"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// MIME returns the media type of the format
func (f Format) MIME() string {
	return "image/" + f.String()
}

// FormatFromPath picks a format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	case ".bmp":
		return FormatBMP, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// FormatFromMIME picks a format from a media type such as "image/png"
func FormatFromMIME(mime string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png", "png":
		return FormatPNG, nil
	case "image/jpeg", "image/jpg", "jpeg", "jpg":
		return FormatJPEG, nil
	case "image/tiff", "image/geotiff", "tiff":
		return FormatTIFF, nil
	case "image/bmp", "bmp":
		return FormatBMP, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, mime)
}

// Decode reads any registered image format into an RGBA buffer
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return FromImage(img), nil
}

// DecodeFile decodes the image stored at path. A missing file is reported
// with an error matching fs.ErrNotExist.
func DecodeFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	im, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// Encode writes im to w in format f
func Encode(w io.Writer, im *Image, f Format) error {
	var err error
	switch f {
	case FormatPNG:
		err = png.Encode(w, im.NRGBA())
	case FormatJPEG:
		err = jpeg.Encode(w, im.NRGBA(), &jpeg.Options{Quality: 90})
	case FormatTIFF:
		err = tiff.Encode(w, im.NRGBA(), &tiff.Options{Compression: tiff.Deflate})
	case FormatBMP:
		err = bmp.Encode(w, im.NRGBA())
	default:
		return fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return nil
}

// EncodeFile writes im to path, choosing the format from the extension.
// The file is written under a temporary name and renamed into place.
func EncodeFile(path string, im *Image) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(w, im, f); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return nil
}
