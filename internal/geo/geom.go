// Package geo holds the stateless geodesic and Web-Mercator math used by the
// dataset queries and the map renderer. Everything here is pure; no I/O.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const (
	// earthRadiusM is the mean Earth radius used for great-circle math.
	earthRadiusM = 6371000.0

	// equatorCircumferenceM is the WGS84 equatorial circumference, the basis
	// of the Web-Mercator meters-per-pixel scale.
	equatorCircumferenceM = 40075016.686
)

// BoundingBox expands a center point and radius into a lat/lon envelope for
// coarse dataset filtering. Longitude degrees are scaled by cos(lat). The box
// is padded by 1% so the coarse pass can never drop a qualifying footprint.
func BoundingBox(lat, lon, radiusKM float64) orb.Bound {
	radiusM := radiusKM * 1000 * 1.01

	angular := radiusM / earthRadiusM
	latRad := lat * math.Pi / 180

	dLat := angular * 180 / math.Pi
	dLon := math.Asin(math.Sin(angular)/math.Cos(latRad)) * 180 / math.Pi

	return orb.Bound{
		Min: orb.Point{lon - dLon, lat - dLat},
		Max: orb.Point{lon + dLon, lat + dLat},
	}
}

// Circle approximates the true great-circle of radiusKM around the center as
// a closed ring with the given number of points. Used both for overlay
// rendering and as the exact-membership geometry.
func Circle(lat, lon, radiusKM float64, points int) orb.Ring {
	if points < 3 {
		points = 64
	}

	ring := make(orb.Ring, 0, points+1)
	for i := 0; i < points; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(points)
		ring = append(ring, destination(lat, lon, radiusKM*1000, bearing))
	}
	ring = append(ring, ring[0])
	return ring
}

// destination solves the direct geodesic problem on the sphere: the point
// reached by travelling distM meters from (lat, lon) along the bearing.
func destination(lat, lon, distM, bearing float64) orb.Point {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	angular := distM / earthRadiusM

	destLat := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearing))
	destLon := lonRad + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(destLat),
	)

	return orb.Point{destLon * 180 / math.Pi, destLat * 180 / math.Pi}
}

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b orb.Point) float64 {
	return geo.Distance(a, b)
}

// MetersPerPixel returns the Web-Mercator ground resolution at the given
// latitude and zoom, assuming 256px tiles.
func MetersPerPixel(lat float64, zoom int) float64 {
	return equatorCircumferenceM * math.Cos(lat*math.Pi/180) / (256 * math.Exp2(float64(zoom)))
}
