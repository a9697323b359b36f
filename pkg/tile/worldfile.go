package tile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ErrNotNorthUp is returned for world files with rotation or flipped axes
var ErrNotNorthUp = errors.New("tile: raster is not north-up")

// WorldFile holds the six affine terms of an ESRI world file. C and F give
// the centre of the upper-left pixel.
type WorldFile struct {
	A float64 // pixel size in x
	D float64 // rotation about y
	B float64 // rotation about x
	E float64 // pixel size in y, negative for north-up
	C float64
	F float64
}

// NewWorldFile describes a north-up raster of the given size covering bounds
func NewWorldFile(bounds orb.Bound, width, height int) *WorldFile {
	px := (bounds.Max[0] - bounds.Min[0]) / float64(width)
	py := (bounds.Max[1] - bounds.Min[1]) / float64(height)
	return &WorldFile{
		A: px,
		E: -py,
		C: bounds.Min[0] + px/2,
		F: bounds.Max[1] - py/2,
	}
}

// ParseWorldFile reads the six lines of a world file. Rotated or
// south-up rasters are rejected with ErrNotNorthUp.
func ParseWorldFile(r io.Reader) (*WorldFile, error) {
	var vals []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("world file line %d: %w", len(vals)+1, err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(vals) != 6 {
		return nil, fmt.Errorf("world file: expected 6 values, got %d", len(vals))
	}

	wf := &WorldFile{A: vals[0], D: vals[1], B: vals[2], E: vals[3], C: vals[4], F: vals[5]}
	if wf.B != 0 || wf.D != 0 || wf.A <= 0 || wf.E >= 0 {
		return nil, ErrNotNorthUp
	}
	return wf, nil
}

// ReadWorldFile parses the world file at path
func ReadWorldFile(path string) (*WorldFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wf, err := ParseWorldFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Bounds returns the world extent of a width x height raster
func (wf *WorldFile) Bounds(width, height int) orb.Bound {
	minx := wf.C - wf.A/2
	maxy := wf.F - wf.E/2
	return orb.Bound{
		Min: orb.Point{minx, maxy + wf.E*float64(height)},
		Max: orb.Point{minx + wf.A*float64(width), maxy},
	}
}

// WriteTo writes the world file in the usual fixed-width layout
func (wf *WorldFile) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, v := range []float64{wf.A, wf.D, wf.B, wf.E, wf.C, wf.F} {
		n, err := fmt.Fprintf(w, "%24.10f\n", v)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

var worldFileExts = map[string][]string{
	".png":  {".pgw", ".pngw"},
	".jpg":  {".jgw", ".jpgw"},
	".jpeg": {".jgw", ".jpegw"},
	".tif":  {".tfw", ".tifw"},
	".tiff": {".tfw", ".tiffw"},
	".bmp":  {".bpw", ".bmpw"},
}

// WorldFilePath returns the conventional world file name for an image
func WorldFilePath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	base := strings.TrimSuffix(imagePath, ext)
	if exts, ok := worldFileExts[strings.ToLower(ext)]; ok {
		return base + exts[0]
	}
	return base + ".wld"
}

// FindWorldFile looks for an existing world file next to an image
func FindWorldFile(imagePath string) (string, error) {
	ext := filepath.Ext(imagePath)
	base := strings.TrimSuffix(imagePath, ext)

	candidates := append([]string{}, worldFileExts[strings.ToLower(ext)]...)
	candidates = append(candidates, ".wld")
	for _, c := range candidates {
		for _, name := range []string{base + c, base + strings.ToUpper(c)} {
			if _, err := os.Stat(name); err == nil {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("no world file found for %s", imagePath)
}

// WriteWorldFile writes the world file for imagePath
func WriteWorldFile(imagePath string, wf *WorldFile) (string, error) {
	name := WorldFilePath(imagePath)
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	if _, err := wf.WriteTo(f); err != nil {
		f.Close()
		return "", err
	}
	return name, f.Close()
}
