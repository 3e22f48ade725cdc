// Package footprint defines the building-footprint data model shared by the
// dataset clients and the aggregation pipeline.
package footprint

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Source identifies which dataset a footprint came from.
type Source string

const (
	// SourceMicrosoft is the ML-derived Microsoft/Overture footprint dataset.
	SourceMicrosoft Source = "microsoft"
	// SourceOSM is the crowdsourced OpenStreetMap reference dataset.
	SourceOSM Source = "osm"
)

// Footprint is one building outline. Immutable once fetched.
type Footprint struct {
	ID       string      `json:"id"`
	Polygon  orb.Polygon `json:"-"`
	Centroid orb.Point   `json:"centroid"`
	AreaSqm  float64     `json:"area_sqm"`
	Source   Source      `json:"source"`
}

// CountResult aggregates a filtered footprint set.
type CountResult struct {
	BuildingCount      int     `json:"building_count"`
	TotalAreaSqm       float64 `json:"total_area_sqm"`
	AvgBuildingAreaSqm float64 `json:"avg_building_area_sqm"`
}

// SpatialQuery is the capability shared by all footprint sources: coarse
// bounding-box selection against the backing dataset. Implementations may
// over-select; callers apply the exact radius test via FilterWithin.
type SpatialQuery interface {
	Source() Source
	Query(ctx context.Context, bound orb.Bound) ([]Footprint, error)
}

// FilterWithin keeps footprints whose centroid lies within radiusMeters
// great-circle distance of center.
func FilterWithin(fps []Footprint, center orb.Point, radiusMeters float64) []Footprint {
	out := make([]Footprint, 0, len(fps))
	for _, fp := range fps {
		if geo.Distance(fp.Centroid, center) <= radiusMeters {
			out = append(out, fp)
		}
	}
	return out
}

// Summarize computes the aggregate statistics for a footprint set. The total
// is an exact sum rounded to 2 decimals; avg is 0 when the set is empty.
func Summarize(fps []Footprint) CountResult {
	var total float64
	for _, fp := range fps {
		total += fp.AreaSqm
	}

	res := CountResult{
		BuildingCount: len(fps),
		TotalAreaSqm:  Round2(total),
	}
	if len(fps) > 0 {
		res.AvgBuildingAreaSqm = Round2(total / float64(len(fps)))
	}
	return res
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CentroidOf returns the planar centroid of a polygon. Footprints are small
// enough that the planar approximation is well within the filter tolerance.
func CentroidOf(p orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(p)
	return c
}
