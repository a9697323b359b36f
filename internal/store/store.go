// Package store persists tiles of a quadtree pyramid.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// ErrTileNotFound reports that no tile is stored at a path. A missing
// tile stands for a fully transparent one.
var ErrTileNotFound = errors.New("store: tile not found")

// Store reads and writes the pixel buffer of one tile at a time
type Store interface {
	// Read returns the tile at p, or ErrTileNotFound.
	Read(p quadtree.Path) (*tile.Image, error)
	// Write stores im at p, replacing any existing tile.
	Write(p quadtree.Path, im *tile.Image) error
	// Merge fuses im over the tile at p and stores the result. A missing
	// tile is treated as transparent.
	Merge(p quadtree.Path, im *tile.Image) error
	// Remove deletes the tile at p. Removing a missing tile is not an error.
	Remove(p quadtree.Path) error
}

// FileStore keeps tiles as <root>/<d1>/<d2>/.../<name>
type FileStore struct {
	root string
	name string
}

// NewFileStore creates a store rooted at dir using name for every tile file
func NewFileStore(dir, name string) (*FileStore, error) {
	if _, err := tile.FormatFromPath(name); err != nil {
		return nil, err
	}
	return &FileStore{root: dir, name: name}, nil
}

// Root returns the store directory
func (s *FileStore) Root() string {
	return s.root
}

// Filename returns the file holding the tile at p
func (s *FileStore) Filename(p quadtree.Path) string {
	return filepath.Join(p.Dir(s.root), s.name)
}

// Read implements Store
func (s *FileStore) Read(p quadtree.Path) (*tile.Image, error) {
	im, err := tile.DecodeFile(s.Filename(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTileNotFound
	}
	return im, err
}

// Write implements Store
func (s *FileStore) Write(p quadtree.Path, im *tile.Image) error {
	if err := os.MkdirAll(p.Dir(s.root), 0o755); err != nil {
		return fmt.Errorf("%w: %v", tile.ErrEncode, err)
	}
	return tile.EncodeFile(s.Filename(p), im)
}

// Merge implements Store. The read-fuse-write sequence is not atomic;
// a single writer per pyramid is assumed.
func (s *FileStore) Merge(p quadtree.Path, im *tile.Image) error {
	existing, err := s.Read(p)
	switch {
	case errors.Is(err, ErrTileNotFound):
		return s.Write(p, im)
	case err != nil:
		return err
	}

	if err := tile.Over(existing, im); err != nil {
		return err
	}
	return s.Write(p, existing)
}

// Remove implements Store
func (s *FileStore) Remove(p quadtree.Path) error {
	err := os.Remove(s.Filename(p))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
