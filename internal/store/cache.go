package store

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/kiesman99/geoquadtree/internal/quadtree"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// CachedStore keeps recently read tiles, including misses, in an LRU cache.
// Concurrent reads of the same uncached tile share one underlying read.
// Images returned by Read are shared and must not be modified.
type CachedStore struct {
	next  Store
	cache *lru.Cache
	group singleflight.Group
}

// NewCachedStore wraps next with a cache of up to size tiles
func NewCachedStore(next Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// Read implements Store
func (c *CachedStore) Read(p quadtree.Path) (*tile.Image, error) {
	if v, ok := c.cache.Get(p); ok {
		return cached(v)
	}

	v, err, _ := c.group.Do(p.String(), func() (interface{}, error) {
		im, err := c.next.Read(p)
		if err != nil && !errors.Is(err, ErrTileNotFound) {
			return nil, err
		}
		c.cache.Add(p, im)
		return im, nil
	})
	if err != nil {
		return nil, err
	}
	return cached(v)
}

func cached(v interface{}) (*tile.Image, error) {
	im, _ := v.(*tile.Image)
	if im == nil {
		return nil, ErrTileNotFound
	}
	return im, nil
}

// Write implements Store
func (c *CachedStore) Write(p quadtree.Path, im *tile.Image) error {
	defer c.cache.Remove(p)
	return c.next.Write(p, im)
}

// Merge implements Store
func (c *CachedStore) Merge(p quadtree.Path, im *tile.Image) error {
	defer c.cache.Remove(p)
	return c.next.Merge(p, im)
}

// Remove implements Store
func (c *CachedStore) Remove(p quadtree.Path) error {
	defer c.cache.Remove(p)
	return c.next.Remove(p)
}

// Len returns the number of cached entries
func (c *CachedStore) Len() int {
	return c.cache.Len()
}
