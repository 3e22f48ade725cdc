package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBox_ContainsCircle(t *testing.T) {
	// Every point of the true circle must fall inside the coarse box.
	lat, lon, radius := 36.060345, -95.816314, 3.0
	bound := BoundingBox(lat, lon, radius)

	for _, pt := range Circle(lat, lon, radius, 128) {
		assert.True(t, bound.Contains(pt), "circle point %v escaped bounding box", pt)
	}
}

func TestBoundingBox_Overestimates(t *testing.T) {
	bound := BoundingBox(40.0, -74.0, 1.0)

	// North edge must be at least 1km from center.
	north := orb.Point{-74.0, bound.Max.Lat()}
	assert.GreaterOrEqual(t, Distance(orb.Point{-74.0, 40.0}, north), 1000.0)

	// East edge likewise, despite the cos(lat) shrink of longitude degrees.
	east := orb.Point{bound.Max.Lon(), 40.0}
	assert.GreaterOrEqual(t, Distance(orb.Point{-74.0, 40.0}, east), 1000.0)
}

func TestCircle_RadiusTolerance(t *testing.T) {
	lat, lon, radius := 36.060345, -95.816314, 3.0
	center := orb.Point{lon, lat}

	ring := Circle(lat, lon, radius, 64)
	require.Len(t, ring, 65)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")

	for _, pt := range ring[:64] {
		d := Distance(center, pt)
		assert.InDelta(t, radius*1000, d, 15, "vertex at %.1fm, want ~3000m", d)
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	start := orb.Point{139.6917, 35.6895}
	pt := destination(start.Lat(), start.Lon(), 5000, math.Pi/3)
	assert.InDelta(t, 5000, Distance(start, pt), 10)
}

func TestMetersPerPixel(t *testing.T) {
	// At the equator, zoom 0, a 256px tile spans the full circumference.
	assert.InDelta(t, equatorCircumferenceM/256, MetersPerPixel(0, 0), 0.01)

	// Resolution halves per zoom level.
	assert.InDelta(t, MetersPerPixel(36, 14)/2, MetersPerPixel(36, 15), 1e-9)
}
