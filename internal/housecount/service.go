// Package housecount orchestrates the building-count pipeline: dataset query,
// radius filter, aggregation, and the optional satellite map render.
package housecount

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/geo"
	"github.com/parcelworks/housecount/internal/render"
)

// TileFetcher is the slice of the tile client the map path needs.
type TileFetcher interface {
	FetchGrid(ctx context.Context, ts []geo.Tile) (map[geo.Tile][]byte, []geo.Tile, error)
}

// Service runs count, map and compare operations against the configured
// footprint sources.
type Service struct {
	primary   footprint.SpatialQuery
	reference footprint.SpatialQuery
	fetcher   TileFetcher
	comp      *render.Compositor
	printer   *message.Printer
}

// NewService wires the pipeline. reference and fetcher may be nil; the
// compare and map operations then report themselves unavailable.
func NewService(primary, reference footprint.SpatialQuery, fetcher TileFetcher, comp *render.Compositor) *Service {
	if comp == nil {
		comp = render.NewCompositor(render.DefaultStyle())
	}
	return &Service{
		primary:   primary,
		reference: reference,
		fetcher:   fetcher,
		comp:      comp,
		printer:   message.NewPrinter(language.English),
	}
}

// Count returns the aggregate over all primary-source footprints whose
// centroid lies within the query radius.
func (s *Service) Count(ctx context.Context, q footprint.Query) (footprint.CountResult, error) {
	if err := q.Validate(); err != nil {
		return footprint.CountResult{}, err
	}
	_, res, err := s.countSource(ctx, s.primary, q)
	return res, err
}

func (s *Service) countSource(ctx context.Context, src footprint.SpatialQuery, q footprint.Query) ([]footprint.Footprint, footprint.CountResult, error) {
	start := time.Now()
	bound := geo.BoundingBox(q.Lat, q.Lon, q.RadiusKM)

	fps, err := src.Query(ctx, bound)
	if err != nil {
		return nil, footprint.CountResult{}, err
	}

	within := footprint.FilterWithin(fps, q.Center(), q.RadiusMeters())
	res := footprint.Summarize(within)

	zap.L().Info("counted footprints",
		zap.String("source", string(src.Source())),
		zap.Int("candidates", len(fps)),
		zap.Int("within_radius", res.BuildingCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return within, res, nil
}

// MapResult is a rendered satellite map plus the count it visualizes.
type MapResult struct {
	PNG           []byte
	Grid          geo.Grid
	DegradedTiles []geo.Tile
	Count         footprint.CountResult
}

// Map renders the satellite map for the query with the footprint and radius
// overlay. Failed tiles appear as blank squares and are listed in
// DegradedTiles; only a full provider outage is an error.
func (s *Service) Map(ctx context.Context, q footprint.Query) (*MapResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.fetcher == nil {
		return nil, eris.New("map rendering is not configured")
	}

	within, res, err := s.countSource(ctx, s.primary, q)
	if err != nil {
		return nil, err
	}
	return s.renderMap(ctx, q, within, res)
}

// renderMap fetches the grid and composes the overlay for footprints that
// were already counted, so callers never query the primary source twice.
func (s *Service) renderMap(ctx context.Context, q footprint.Query, within []footprint.Footprint, res footprint.CountResult) (*MapResult, error) {
	grid := geo.RenderGrid(q.Lat, q.Lon, q.RadiusKM, q.Zoom)
	fetched, degraded, err := s.fetcher.FetchGrid(ctx, grid.Tiles())
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, eris.Errorf("all %d tiles failed to fetch", grid.Size*grid.Size)
	}

	png, err := s.comp.Compose(grid, fetched, render.Overlay{
		Footprints: within,
		Center:     q.Center(),
		RadiusKM:   q.RadiusKM,
	})
	if err != nil {
		return nil, err
	}

	if len(degraded) > 0 {
		zap.L().Warn("map rendered with degraded tiles",
			zap.Int("degraded", len(degraded)),
			zap.Int("total", grid.Size*grid.Size),
		)
	}
	return &MapResult{PNG: png, Grid: grid, DegradedTiles: degraded, Count: res}, nil
}

// SourceCount is one side of a comparison. Error is set when that source
// failed; Count is only meaningful when Error is empty.
type SourceCount struct {
	Source footprint.Source      `json:"source"`
	Count  footprint.CountResult `json:"count"`
	Error  string                `json:"error,omitempty"`
}

// CompareResult contrasts the primary dataset against the reference one.
type CompareResult struct {
	Primary   SourceCount `json:"primary"`
	Reference SourceCount `json:"reference"`

	// Delta and Summary are set only when both sources succeeded.
	Delta   int    `json:"delta"`
	Summary string `json:"summary,omitempty"`
}

// Compare counts the same query against both sources concurrently. A failure
// of one source is recorded on its side and never suppresses the other.
func (s *Service) Compare(ctx context.Context, q footprint.Query) (*CompareResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.reference == nil {
		return nil, eris.New("reference dataset is not configured")
	}

	res, _, _ := s.compareSources(ctx, q)
	return res, nil
}

// compareSources counts both sources concurrently and assembles the
// comparison. Both sides always run to completion; errors are per-source
// results, not group failures. The primary footprints and error are returned
// so map-rendering callers can reuse the query instead of repeating it.
func (s *Service) compareSources(ctx context.Context, q footprint.Query) (*CompareResult, []footprint.Footprint, error) {
	var (
		primaryFps         []footprint.Footprint
		primary, reference footprint.CountResult
		primaryErr, refErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		primaryFps, primary, primaryErr = s.countSource(ctx, s.primary, q)
		return nil
	})
	g.Go(func() error {
		_, reference, refErr = s.countSource(ctx, s.reference, q)
		return nil
	})
	_ = g.Wait()

	res := &CompareResult{
		Primary:   SourceCount{Source: s.primary.Source(), Count: primary},
		Reference: SourceCount{Source: s.reference.Source(), Count: reference},
	}
	if primaryErr != nil {
		res.Primary.Error = primaryErr.Error()
	}
	if refErr != nil {
		res.Reference.Error = refErr.Error()
	}
	if primaryErr == nil && refErr == nil {
		res.Delta = primary.BuildingCount - reference.BuildingCount
		res.Summary = FormatDelta(res.Delta, reference.BuildingCount)
	}
	return res, primaryFps, primaryErr
}

// CompareWithMap runs the comparison and renders the map from the same
// primary query, so the dataset is hit once per request. A failed primary
// source is fatal here: there is no overlay to draw without it.
func (s *Service) CompareWithMap(ctx context.Context, q footprint.Query) (*CompareResult, *MapResult, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}
	if s.reference == nil {
		return nil, nil, eris.New("reference dataset is not configured")
	}
	if s.fetcher == nil {
		return nil, nil, eris.New("map rendering is not configured")
	}

	cmp, primaryFps, primaryErr := s.compareSources(ctx, q)
	if primaryErr != nil {
		return nil, nil, primaryErr
	}

	mapRes, err := s.renderMap(ctx, q, primaryFps, cmp.Primary.Count)
	if err != nil {
		return nil, nil, err
	}
	return cmp, mapRes, nil
}

// FormatDelta renders a signed count difference with the percentage change
// relative to the reference count, e.g. "+10956 (+3112.5%)".
func FormatDelta(delta, referenceCount int) string {
	if referenceCount == 0 {
		return fmt.Sprintf("%+d (n/a)", delta)
	}
	pct := float64(delta) / float64(referenceCount) * 100
	return fmt.Sprintf("%+d (%+.1f%%)", delta, pct)
}

// ZoomLevel describes the render cost of one zoom choice for a query.
type ZoomLevel struct {
	Zoom            int     `json:"zoom"`
	GridSize        int     `json:"grid"`
	TileCount       int     `json:"tile_count"`
	PixelSize       int     `json:"image_size"`
	MetersPerPixel  float64 `json:"meters_per_pixel"`
	EstimateSeconds float64 `json:"estimated_seconds"`
	Auto            bool    `json:"is_default,omitempty"`
}

// ZoomInfo enumerates the zoom/cost trade-off for a query.
type ZoomInfo struct {
	AutoZoom int         `json:"auto_zoom"`
	Levels   []ZoomLevel `json:"levels"`
}

// ZoomInfo reports, for each permitted zoom level, the grid size, canvas
// size and estimated fetch time the map render would incur.
func (s *Service) ZoomInfo(q footprint.Query) (*ZoomInfo, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	auto := geo.AutoZoom(q.RadiusMeters())
	info := &ZoomInfo{AutoZoom: auto}
	for zoom := 10; zoom <= 18; zoom++ {
		size := geo.GridSizeForZoom(q.RadiusMeters(), zoom)
		info.Levels = append(info.Levels, ZoomLevel{
			Zoom:            zoom,
			GridSize:        size,
			TileCount:       size * size,
			PixelSize:       size * geo.TileSize,
			MetersPerPixel:  footprint.Round2(geo.MetersPerPixel(q.Lat, zoom)),
			EstimateSeconds: geo.EstimateSeconds(size * size),
			Auto:            zoom == auto,
		})
	}
	return info, nil
}

// CountMessage renders a count as a human-readable sentence with grouped
// digits, e.g. "Found 11,308 buildings within 3.0 km".
func (s *Service) CountMessage(q footprint.Query, res footprint.CountResult) string {
	return s.printer.Sprintf("Found %d buildings within %.1f km", res.BuildingCount, q.RadiusKM)
}
