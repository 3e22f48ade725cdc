package main

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/db"
)

var loadBatchSize int

// tableIdent guards the identifier interpolated into DDL.
var tableIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var loadCmd = &cobra.Command{
	Use:   "load <shapefile>",
	Short: "Load a building-footprint shapefile into the dataset table",
	Long:  "Reads polygon footprints from an ESRI shapefile (e.g. a Microsoft Building Footprints state extract) and bulk-copies them into the configured PostGIS table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Dataset.DatabaseURL == "" {
			return eris.New("dataset.database_url is not configured")
		}
		if !tableIdent.MatchString(cfg.Dataset.Table) {
			return eris.Errorf("invalid dataset table name %q", cfg.Dataset.Table)
		}
		pool, err := db.Connect(ctx, cfg.Dataset.DatabaseURL, cfg.Dataset.Pool)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ensureSchema(ctx, pool, cfg.Dataset.Table); err != nil {
			return err
		}

		n, err := loadShapefile(ctx, pool, cfg.Dataset.Table, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Loaded %d footprints into %s\n", n, cfg.Dataset.Table)
		return nil
	},
}

func ensureSchema(ctx context.Context, pool db.Pool, table string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source_id TEXT PRIMARY KEY,
			geom      geometry(Polygon, 4326) NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_geom_idx ON %s USING GIST (geom)`,
			table, table),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "load: ensure schema")
		}
	}
	return nil
}

func loadShapefile(ctx context.Context, pool db.Pool, table, path string) (int64, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "load: open %s", path)
	}
	defer reader.Close()

	var (
		total   int64
		skipped int
		batch   [][]any
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := db.CopyFrom(ctx, pool, table, []string{"source_id", "geom"}, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for reader.Next() {
		n, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		hexGeom, err := encodePolygon(poly)
		if err != nil {
			zap.L().Warn("load: skipping bad polygon", zap.Int("record", n), zap.Error(err))
			skipped++
			continue
		}

		batch = append(batch, []any{fmt.Sprintf("shp-%d", n), hexGeom})
		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := reader.Err(); err != nil {
		return total, eris.Wrap(err, "load: read shapefile")
	}
	if err := flush(); err != nil {
		return total, err
	}

	if skipped > 0 {
		zap.L().Warn("load: skipped non-polygon or bad records", zap.Int("count", skipped))
	}
	return total, nil
}

// encodePolygon converts a shapefile polygon into hex-encoded EWKB, which
// PostGIS parses directly as geometry input.
func encodePolygon(p *shp.Polygon) (string, error) {
	if len(p.Points) == 0 || len(p.Parts) == 0 {
		return "", eris.New("load: empty polygon")
	}

	rings := make([][]geom.Coord, 0, len(p.Parts))
	for i, start := range p.Parts {
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		pts := p.Points[start:end]
		if len(pts) < 4 {
			continue
		}

		ring := make([]geom.Coord, 0, len(pts))
		for _, pt := range pts {
			ring = append(ring, geom.Coord{pt.X, pt.Y})
		}
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return "", eris.New("load: no valid rings")
	}

	g := geom.NewPolygon(geom.XY).MustSetCoords(rings).SetSRID(4326)
	return ewkbhex.Encode(g, ewkbhex.NDR)
}

func init() {
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 5000, "rows per COPY batch")
	rootCmd.AddCommand(loadCmd)
}
