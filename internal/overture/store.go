// Package overture queries the ML-derived Microsoft/Overture building
// footprints loaded into PostGIS.
package overture

import (
	"context"
	"fmt"
	"regexp"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/db"
	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/resilience"
)

// tableName guards the table identifier interpolated into queries.
var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_.]*$`)

// Store is the primary footprint source. The coarse pass is a bbox overlap
// against the spatial index; exact radius membership is the caller's job
// (footprint.FilterWithin).
type Store struct {
	pool  db.Pool
	table string
	retry resilience.RetryConfig
}

// NewStore creates a footprint store reading from the given table.
func NewStore(pool db.Pool, table string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, eris.Errorf("overture: invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, retry: resilience.DefaultRetryConfig()}, nil
}

// Source identifies this store's dataset.
func (s *Store) Source() footprint.Source { return footprint.SourceMicrosoft }

// Query returns every footprint whose geometry overlaps the envelope, with
// its geodesic area in square meters. Transient failures get one retry with
// backoff; anything else surfaces as a SourceError.
func (s *Store) Query(ctx context.Context, bound orb.Bound) ([]footprint.Footprint, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("overture", "query")

	fps, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]footprint.Footprint, error) {
		return s.queryOnce(ctx, bound)
	})
	if err != nil {
		return nil, &footprint.SourceError{Src: footprint.SourceMicrosoft, Err: err}
	}

	zap.L().Debug("overture: bbox query",
		zap.Int("footprints", len(fps)),
		zap.Float64s("bbox", []float64{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}),
	)
	return fps, nil
}

func (s *Store) queryOnce(ctx context.Context, bound orb.Bound) ([]footprint.Footprint, error) {
	sql := fmt.Sprintf(`
		SELECT source_id, ST_AsBinary(geom), ST_Area(geom::geography)
		FROM %s
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)`, s.table)

	rows, err := s.pool.Query(ctx, sql,
		bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return nil, eris.Wrap(err, "overture: query bbox")
	}
	defer rows.Close()

	var fps []footprint.Footprint
	for rows.Next() {
		var (
			id   string
			scan = wkb.Scanner(nil)
			area float64
		)
		if err := rows.Scan(&id, scan, &area); err != nil {
			return nil, eris.Wrap(err, "overture: scan row")
		}

		poly, ok := largestPolygon(scan.Geometry)
		if !ok {
			continue
		}

		fps = append(fps, footprint.Footprint{
			ID:       id,
			Polygon:  poly,
			Centroid: footprint.CentroidOf(poly),
			AreaSqm:  area,
			Source:   footprint.SourceMicrosoft,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "overture: iterate rows")
	}
	return fps, nil
}

// largestPolygon unwraps a geometry into a single polygon, taking the
// biggest member of a multipolygon. Non-areal geometries are skipped.
func largestPolygon(g orb.Geometry) (orb.Polygon, bool) {
	switch geom := g.(type) {
	case orb.Polygon:
		return geom, true
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return nil, false
		}
		best := geom[0]
		for _, p := range geom[1:] {
			if ringSpan(p) > ringSpan(best) {
				best = p
			}
		}
		return best, true
	default:
		return nil, false
	}
}

// ringSpan is a cheap comparable proxy for polygon size.
func ringSpan(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	b := p.Bound()
	return (b.Max.Lon() - b.Min.Lon()) * (b.Max.Lat() - b.Min.Lat())
}

// Count is a fast-path count of footprints overlapping the envelope without
// materializing geometries.
func (s *Store) Count(ctx context.Context, bound orb.Bound) (int, error) {
	sql := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)`, s.table)

	var n int64
	err := s.pool.QueryRow(ctx, sql,
		bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "overture: count bbox")
	}
	return int(n), nil
}
