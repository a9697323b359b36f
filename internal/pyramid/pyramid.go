// Package pyramid describes a georeferenced quadtree of raster tiles: its
// persisted descriptor, the geometry linking world coordinates to tile
// paths, and the handle tying a descriptor to its tile store.
package pyramid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kiesman99/geoquadtree/internal/store"
)

// Pyramid is an opened pyramid directory
type Pyramid struct {
	Dir        string
	Descriptor *Descriptor
	Tiles      store.Store
}

// Create initialises a new pyramid in dir. It fails if dir already holds one.
func Create(dir string, d *Descriptor) (*Pyramid, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, DescriptorFile)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("pyramid already exists: %s", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := SaveDescriptor(path, d); err != nil {
		return nil, err
	}

	tiles, err := store.NewFileStore(dir, d.TileName)
	if err != nil {
		return nil, err
	}
	return &Pyramid{Dir: dir, Descriptor: d, Tiles: tiles}, nil
}

// Open loads the pyramid stored in dir
func Open(dir string) (*Pyramid, error) {
	d, err := LoadDescriptor(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, err
	}

	tiles, err := store.NewFileStore(dir, d.TileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &Pyramid{Dir: dir, Descriptor: d, Tiles: tiles}, nil
}

// Save persists the descriptor
func (p *Pyramid) Save() error {
	if err := p.Descriptor.Validate(); err != nil {
		return err
	}
	return SaveDescriptor(filepath.Join(p.Dir, DescriptorFile), p.Descriptor)
}

// WithCache wraps the tile store in an LRU cache of size tiles
func (p *Pyramid) WithCache(size int) error {
	if size <= 0 {
		return nil
	}
	cached, err := store.NewCachedStore(p.Tiles, size)
	if err != nil {
		return err
	}
	p.Tiles = cached
	return nil
}
