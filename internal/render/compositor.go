// Package render stitches basemap tiles into a single canvas and draws the
// search overlay (footprints, radius circle, center marker) on top.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // tile providers serve JPEG as often as PNG
	"image/png"
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"golang.org/x/image/vector"

	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/geo"
)

// Style holds the overlay drawing parameters. Zero value is unusable; use
// DefaultStyle.
type Style struct {
	FootprintFill color.NRGBA
	CircleStroke  color.NRGBA
	CircleWidth   float32
	MarkerFill    color.NRGBA
	MarkerRadius  float32
	BlankTile     color.NRGBA
}

// DefaultStyle matches the service's standard map look: translucent red
// footprints, a yellow search circle and a yellow center marker.
func DefaultStyle() Style {
	return Style{
		FootprintFill: color.NRGBA{R: 255, G: 0, B: 0, A: 115},
		CircleStroke:  color.NRGBA{R: 255, G: 215, B: 0, A: 255},
		CircleWidth:   3,
		MarkerFill:    color.NRGBA{R: 255, G: 215, B: 0, A: 255},
		MarkerRadius:  6,
		BlankTile:     color.NRGBA{R: 40, G: 40, B: 40, A: 255},
	}
}

// Compositor renders map PNGs for a query.
type Compositor struct {
	style Style
}

// NewCompositor creates a Compositor with the given style.
func NewCompositor(style Style) *Compositor {
	return &Compositor{style: style}
}

// Overlay is everything drawn on top of the stitched basemap.
type Overlay struct {
	Footprints []footprint.Footprint
	Center     orb.Point
	RadiusKM   float64
}

// Compose stitches the grid's tiles into one canvas, substituting a blank
// fill for any tile missing from fetched, draws the overlay and returns the
// encoded PNG.
func (c *Compositor) Compose(grid geo.Grid, fetched map[geo.Tile][]byte, overlay Overlay) ([]byte, error) {
	canvas, err := c.stitch(grid, fetched)
	if err != nil {
		return nil, err
	}

	c.drawFootprints(canvas, grid, overlay.Footprints)
	c.drawCircle(canvas, grid, overlay.Center, overlay.RadiusKM)
	c.drawMarker(canvas, grid, overlay.Center)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, eris.Wrap(err, "render: encode png")
	}
	return buf.Bytes(), nil
}

func (c *Compositor) stitch(grid geo.Grid, fetched map[geo.Tile][]byte) (*image.RGBA, error) {
	size := grid.PixelSize()
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(c.style.BlankTile), image.Point{}, draw.Src)

	for _, t := range grid.Tiles() {
		data, ok := fetched[t]
		if !ok {
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			// Corrupt tile bytes degrade to the blank fill like a failed fetch.
			continue
		}

		x := (t.X - grid.Origin.X) * geo.TileSize
		y := (t.Y - grid.Origin.Y) * geo.TileSize
		rect := image.Rect(x, y, x+geo.TileSize, y+geo.TileSize)
		draw.Draw(canvas, rect, img, img.Bounds().Min, draw.Src)
	}
	return canvas, nil
}

func (c *Compositor) drawFootprints(canvas *image.RGBA, grid geo.Grid, fps []footprint.Footprint) {
	size := grid.PixelSize()
	for _, fp := range fps {
		for _, ring := range fp.Polygon {
			if len(ring) < 3 {
				continue
			}
			pts := projectRing(ring, grid)
			if outsideCanvas(pts, size) {
				continue
			}
			fillPath(canvas, pts, c.style.FootprintFill)
		}
	}
}

func (c *Compositor) drawCircle(canvas *image.RGBA, grid geo.Grid, center orb.Point, radiusKM float64) {
	ring := geo.Circle(center.Lat(), center.Lon(), radiusKM, 180)
	pts := projectRing(ring, grid)
	strokePath(canvas, pts, c.style.CircleWidth, c.style.CircleStroke)
}

func (c *Compositor) drawMarker(canvas *image.RGBA, grid geo.Grid, center orb.Point) {
	x, y := geo.ToPixel(center, grid.Zoom, grid.Origin)
	r := c.style.MarkerRadius

	const segments = 24
	pts := make([][2]float32, 0, segments+1)
	for i := 0; i <= segments; i++ {
		a := 2 * math.Pi * float64(i) / segments
		pts = append(pts, [2]float32{
			float32(x) + r*float32(math.Cos(a)),
			float32(y) + r*float32(math.Sin(a)),
		})
	}
	fillPath(canvas, pts, c.style.MarkerFill)
}

func projectRing(ring orb.Ring, grid geo.Grid) [][2]float32 {
	pts := make([][2]float32, 0, len(ring))
	for _, pt := range ring {
		x, y := geo.ToPixel(pt, grid.Zoom, grid.Origin)
		pts = append(pts, [2]float32{float32(x), float32(y)})
	}
	return pts
}

// outsideCanvas reports whether every vertex misses the canvas entirely, so
// footprints beyond the stitched coverage are skipped cheaply.
func outsideCanvas(pts [][2]float32, size int) bool {
	for _, p := range pts {
		if p[0] >= 0 && p[0] < float32(size) && p[1] >= 0 && p[1] < float32(size) {
			return false
		}
	}
	return true
}

func fillPath(canvas *image.RGBA, pts [][2]float32, fill color.NRGBA) {
	if len(pts) < 3 {
		return
	}

	bounds := canvas.Bounds()
	ras := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	ras.DrawOp = draw.Over

	ras.MoveTo(pts[0][0], pts[0][1])
	for _, p := range pts[1:] {
		ras.LineTo(p[0], p[1])
	}
	ras.ClosePath()

	ras.Draw(canvas, bounds, image.NewUniform(fill), image.Point{})
}

// strokePath draws a polyline by filling one quad per segment. Good enough
// for the smooth, densely sampled search circle.
func strokePath(canvas *image.RGBA, pts [][2]float32, width float32, stroke color.NRGBA) {
	half := width / 2
	for i := 0; i+1 < len(pts); i++ {
		a, b := pts[i], pts[i+1]

		dx, dy := b[0]-a[0], b[1]-a[1]
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		// Unit normal scaled to half the stroke width.
		nx, ny := -dy/length*half, dx/length*half

		quad := [][2]float32{
			{a[0] + nx, a[1] + ny},
			{b[0] + nx, b[1] + ny},
			{b[0] - nx, b[1] - ny},
			{a[0] - nx, a[1] - ny},
		}
		fillPath(canvas, quad, stroke)
	}
}
