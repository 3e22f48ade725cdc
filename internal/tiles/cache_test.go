package tiles

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/housecount/internal/geo"
)

func TestDiskCache_PutGet(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir(), nil)
	require.NoError(t, err)

	tile := geo.Tile{Zoom: 14, X: 3832, Y: 6448}
	data := []byte("png-bytes")

	_, ok := cache.Get(tile)
	assert.False(t, ok, "empty cache must miss")

	require.NoError(t, cache.Put(tile, data))

	got, ok := cache.Get(tile)
	require.True(t, ok)
	assert.Equal(t, data, got)

	// Repeated reads return byte-identical data.
	again, ok := cache.Get(tile)
	require.True(t, ok)
	assert.Equal(t, got, again)
}

func TestDiskCache_PathLayout(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir, nil)
	require.NoError(t, err)

	tile := geo.Tile{Zoom: 14, X: 3832, Y: 6448}
	require.NoError(t, cache.Put(tile, []byte("x")))

	assert.FileExists(t, filepath.Join(dir, "14", "3832", "6448.png"))
}

func TestDiskCache_RecordsIndex(t *testing.T) {
	dir := t.TempDir()
	index, err := OpenIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer index.Close()

	cache, err := NewDiskCache(dir, index)
	require.NoError(t, err)

	require.NoError(t, cache.Put(geo.Tile{Zoom: 14, X: 1, Y: 2}, make([]byte, 100)))
	require.NoError(t, cache.Put(geo.Tile{Zoom: 14, X: 1, Y: 3}, make([]byte, 50)))
	require.NoError(t, cache.Put(geo.Tile{Zoom: 15, X: 9, Y: 9}, make([]byte, 25)))
	// Overwrite replaces the row, not duplicates it.
	require.NoError(t, cache.Put(geo.Tile{Zoom: 14, X: 1, Y: 2}, make([]byte, 200)))

	stats, err := index.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TileCount)
	assert.Equal(t, int64(275), stats.TotalBytes)
	require.Len(t, stats.ByZoom, 2)
	assert.Equal(t, 14, stats.ByZoom[0].Zoom)
	assert.Equal(t, 2, stats.ByZoom[0].TileCount)
	assert.Equal(t, int64(250), stats.ByZoom[0].Bytes)
}

func TestMemCache_EvictsOldest(t *testing.T) {
	cache := NewMemCache(2, 0)

	a := geo.Tile{Zoom: 14, X: 1, Y: 1}
	b := geo.Tile{Zoom: 14, X: 2, Y: 2}
	c := geo.Tile{Zoom: 14, X: 3, Y: 3}

	require.NoError(t, cache.Put(a, []byte("a")))
	require.NoError(t, cache.Put(b, []byte("b")))

	// Touch a so b becomes the eviction candidate.
	_, ok := cache.Get(a)
	require.True(t, ok)

	require.NoError(t, cache.Put(c, []byte("c")))

	_, ok = cache.Get(b)
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = cache.Get(a)
	assert.True(t, ok)
	_, ok = cache.Get(c)
	assert.True(t, ok)
}

func TestMemCache_TTLExpires(t *testing.T) {
	cache := NewMemCache(10, 10*time.Millisecond)
	tile := geo.Tile{Zoom: 14, X: 1, Y: 1}

	require.NoError(t, cache.Put(tile, []byte("x")))
	_, ok := cache.Get(tile)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get(tile)
	assert.False(t, ok, "entry expired after TTL")
}

func TestMemCache_HitRate(t *testing.T) {
	cache := NewMemCache(10, 0)
	assert.Zero(t, cache.HitRate(), "no lookups yet")

	tile := geo.Tile{Zoom: 14, X: 1, Y: 1}
	require.NoError(t, cache.Put(tile, []byte("x")))

	_, _ = cache.Get(tile)
	_, _ = cache.Get(tile)
	_, _ = cache.Get(geo.Tile{Zoom: 14, X: 2, Y: 2})

	assert.InDelta(t, 2.0/3.0, cache.HitRate(), 0.0001)
}

func TestLayered_PromotesBackHits(t *testing.T) {
	front := NewMemCache(10, 0)
	back := NewMemCache(10, 0)
	layered := NewLayered(front, back)

	tile := geo.Tile{Zoom: 14, X: 5, Y: 5}
	require.NoError(t, back.Put(tile, []byte("x")))

	_, ok := front.Get(tile)
	require.False(t, ok)

	data, ok := layered.Get(tile)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), data)

	_, ok = front.Get(tile)
	assert.True(t, ok, "back hit promoted to front")
}
