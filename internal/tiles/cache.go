// Package tiles fetches basemap raster tiles and caches them on disk.
package tiles

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/parcelworks/housecount/internal/geo"
)

// Cache stores tile image bytes by coordinate. Implementations must be safe
// for concurrent use; concurrent writes to the same key may race and the
// last write wins.
type Cache interface {
	Get(t geo.Tile) ([]byte, bool)
	Put(t geo.Tile, data []byte) error
}

// DiskCache keeps one file per tile under dir/z/x/y.png. Entries are never
// expired here; clearing the directory is an external concern.
type DiskCache struct {
	dir   string
	index *Index
}

// NewDiskCache creates the cache directory if needed. index may be nil to
// skip stats bookkeeping.
func NewDiskCache(dir string, index *Index) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "tiles: create cache dir")
	}
	return &DiskCache{dir: dir, index: index}, nil
}

func (c *DiskCache) path(t geo.Tile) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d", t.Zoom), fmt.Sprintf("%d", t.X), fmt.Sprintf("%d.png", t.Y))
}

// Get returns the cached bytes for the tile, if present.
func (c *DiskCache) Get(t geo.Tile) ([]byte, bool) {
	data, err := os.ReadFile(c.path(t))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put persists the tile atomically: write to a temp file in the same
// directory, then rename. Racing writers leave one intact winner.
func (c *DiskCache) Put(t geo.Tile, data []byte) error {
	path := c.path(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "tiles: create tile dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return eris.Wrap(err, "tiles: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "tiles: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "tiles: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "tiles: rename temp file")
	}

	if c.index != nil {
		c.index.Record(t, len(data))
	}
	return nil
}

// Layered reads through a fast front cache backed by a durable one.
type Layered struct {
	front Cache
	back  Cache
}

// NewLayered layers front (typically memory) over back (typically disk).
func NewLayered(front, back Cache) *Layered {
	return &Layered{front: front, back: back}
}

// Get checks the front cache, then the back, promoting hits forward.
func (l *Layered) Get(t geo.Tile) ([]byte, bool) {
	if data, ok := l.front.Get(t); ok {
		return data, true
	}
	data, ok := l.back.Get(t)
	if ok {
		_ = l.front.Put(t, data)
	}
	return data, ok
}

// Put writes through both layers.
func (l *Layered) Put(t geo.Tile, data []byte) error {
	_ = l.front.Put(t, data)
	return l.back.Put(t, data)
}
