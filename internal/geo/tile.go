package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileSize is the pixel size of one slippy-map tile.
const TileSize = 256

// Tile addresses one slippy-map tile.
type Tile struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// TileAt returns the tile containing the point at the given zoom.
func TileAt(pt orb.Point, zoom int) Tile {
	mt := maptile.At(pt, maptile.Zoom(zoom))
	return Tile{Zoom: zoom, X: int(mt.X), Y: int(mt.Y)}
}

// TileCover returns every tile whose extent intersects the envelope,
// inclusive of partial edge tiles. Always at least a 1x1 grid.
func TileCover(bound orb.Bound, zoom int) []Tile {
	min := maptile.At(orb.Point{bound.Min.Lon(), bound.Max.Lat()}, maptile.Zoom(zoom))
	max := maptile.At(orb.Point{bound.Max.Lon(), bound.Min.Lat()}, maptile.Zoom(zoom))

	tiles := make([]Tile, 0, (int(max.X-min.X)+1)*(int(max.Y-min.Y)+1))
	for x := int(min.X); x <= int(max.X); x++ {
		for y := int(min.Y); y <= int(max.Y); y++ {
			tiles = append(tiles, Tile{Zoom: zoom, X: x, Y: y})
		}
	}
	return tiles
}

// Grid is the square tile grid a map render stitches together.
type Grid struct {
	Zoom   int  `json:"zoom"`
	Size   int  `json:"size"`   // tiles per side
	Origin Tile `json:"origin"` // top-left tile
}

// Tiles enumerates the grid row-major from the origin.
func (g Grid) Tiles() []Tile {
	tiles := make([]Tile, 0, g.Size*g.Size)
	for dy := 0; dy < g.Size; dy++ {
		for dx := 0; dx < g.Size; dx++ {
			tiles = append(tiles, Tile{Zoom: g.Zoom, X: g.Origin.X + dx, Y: g.Origin.Y + dy})
		}
	}
	return tiles
}

// PixelSize returns the stitched canvas edge length in pixels.
func (g Grid) PixelSize() int {
	return g.Size * TileSize
}

// Contains reports whether the tile falls inside the grid.
func (g Grid) Contains(t Tile) bool {
	return t.Zoom == g.Zoom &&
		t.X >= g.Origin.X && t.X < g.Origin.X+g.Size &&
		t.Y >= g.Origin.Y && t.Y < g.Origin.Y+g.Size
}

const (
	baseGridSize = 5
	maxGridSize  = 100
)

// RenderGrid computes the tile grid for a map render: a base 5x5 grid
// centered on the query point at the auto zoom for the radius, doubling per
// zoom level above that, capped at 100x100. Zoom is a cost/detail trade-off
// the caller owns; it is never clamped silently.
func RenderGrid(lat, lon, radiusKM float64, zoom int) Grid {
	auto := AutoZoom(radiusKM * 1000)
	if zoom <= 0 {
		zoom = auto
	}

	size := GridSizeForZoom(radiusKM*1000, zoom)
	center := TileAt(orb.Point{lon, lat}, zoom)
	half := size / 2

	return Grid{
		Zoom:   zoom,
		Size:   size,
		Origin: Tile{Zoom: zoom, X: center.X - half, Y: center.Y - half},
	}
}

// AutoZoom picks the highest zoom at which the radius spans fewer than 400
// pixels, so the search circle fits comfortably in the default 5x5 grid.
func AutoZoom(radiusMeters float64) int {
	for zoom := 20; zoom > 0; zoom-- {
		mpp := equatorCircumferenceM / 256 / math.Exp2(float64(zoom))
		if radiusMeters/mpp < 400 {
			return zoom
		}
	}
	return 15
}

// GridSizeForZoom returns the tiles-per-side needed to keep the radius
// covered at the requested zoom. Each zoom step above the auto zoom doubles
// the grid.
func GridSizeForZoom(radiusMeters float64, zoom int) int {
	auto := AutoZoom(radiusMeters)
	if zoom <= auto {
		return baseGridSize
	}

	size := baseGridSize << (zoom - auto)
	if size > maxGridSize {
		return maxGridSize
	}
	return size
}

// ToPixel projects a geographic point into the pixel space of a canvas whose
// top-left corner is the origin tile.
func ToPixel(pt orb.Point, zoom int, origin Tile) (int, int) {
	n := math.Exp2(float64(zoom))

	worldX := (pt.Lon() + 180) / 360 * n * TileSize
	latRad := pt.Lat() * math.Pi / 180
	worldY := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n * TileSize

	return int(worldX) - origin.X*TileSize, int(worldY) - origin.Y*TileSize
}

// EstimateSeconds models the wall-clock cost of fetching tileCount tiles
// with parallel downloads. Calibrated against observed provider latency.
func EstimateSeconds(tileCount int) float64 {
	return float64(tileCount) * 0.05
}
