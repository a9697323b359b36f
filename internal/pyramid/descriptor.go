package pyramid

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// DescriptorFile is the name of the descriptor inside a pyramid directory
const DescriptorFile = "pyramid.yaml"

// MaxLevels bounds the quadtree depth
const MaxLevels = 30

// ErrConfig marks a malformed or incomplete descriptor
var ErrConfig = errors.New("pyramid: invalid descriptor")

// Descriptor is the persisted metadata of a pyramid. Everything needed to
// interpret a tile path is recorded here.
type Descriptor struct {
	// TileName is the file name shared by every tile, its extension selects the codec.
	TileName string `yaml:"tile_name" default:"gqt.png" validate:"required"`
	// CRS is the spatial reference of the stored raster, e.g. "EPSG:25831".
	CRS string `yaml:"crs" validate:"required"`
	// Origin is the centre of the root extent.
	Origin orb.Point `yaml:"origin"`
	// Levels is the depth of the leaf tiles.
	Levels int `yaml:"levels" validate:"gte=0,lte=30"`
	// TileSize is the width and height of every tile in pixels.
	TileSize [2]int `yaml:"tile_size" validate:"dive,gt=0"`
	// PixelSize is the world size of a leaf pixel along x and y.
	PixelSize [2]float64 `yaml:"pixel_size" validate:"dive,gt=0"`
	// BoundingBox is the union of all imported data, nil before the first import.
	BoundingBox *orb.Bound `yaml:"bounding_box,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate applies defaults and checks the descriptor. Failures wrap ErrConfig.
func (d *Descriptor) Validate() error {
	if err := defaults.Set(d); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if strings.ContainsAny(d.TileName, `/\`) {
		return fmt.Errorf("%w: tile name %q must not contain a path separator", ErrConfig, d.TileName)
	}
	if _, err := tile.FormatFromPath(d.TileName); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for _, v := range []float64{d.PixelSize[0], d.PixelSize[1], d.Origin[0], d.Origin[1]} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return fmt.Errorf("%w: non-finite pixel size or origin", ErrConfig)
		}
	}

	if d.BoundingBox != nil {
		bb := *d.BoundingBox
		if bb.Min[0] > bb.Max[0] || bb.Min[1] > bb.Max[1] {
			return fmt.Errorf("%w: bounding box min exceeds max", ErrConfig)
		}
		root := d.RootExtent()
		if !root.Contains(bb.Min) || !root.Contains(bb.Max) {
			return fmt.Errorf("%w: bounding box %v outside root extent %v", ErrConfig, bb, root)
		}
	}
	return nil
}

// ExtendBoundingBox grows the bounding box to include b
func (d *Descriptor) ExtendBoundingBox(b orb.Bound) {
	if d.BoundingBox == nil {
		bb := b
		d.BoundingBox = &bb
		return
	}
	bb := d.BoundingBox.Union(b)
	d.BoundingBox = &bb
}

// LoadDescriptor reads and validates the descriptor at path
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	d := &Descriptor{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// SaveDescriptor writes d to path, replacing any existing file
func SaveDescriptor(path string, d *Descriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
