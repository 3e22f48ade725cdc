package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/db"
	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/housecount"
	"github.com/parcelworks/housecount/internal/osm"
	"github.com/parcelworks/housecount/internal/overture"
	"github.com/parcelworks/housecount/internal/tiles"
)

// env holds the wired service and the handles that need closing.
type env struct {
	pool    *pgxpool.Pool
	store   *overture.Store
	index   *tiles.Index
	mem     *tiles.MemCache
	fetcher *tiles.Fetcher
	service *housecount.Service
}

func (e *env) Close() {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			zap.L().Warn("close tile index", zap.Error(err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// initService connects the dataset, reference and tile clients from config.
func initService(ctx context.Context) (*env, error) {
	if cfg.Dataset.DatabaseURL == "" {
		return nil, eris.New("dataset.database_url is not configured")
	}

	pool, err := db.Connect(ctx, cfg.Dataset.DatabaseURL, cfg.Dataset.Pool)
	if err != nil {
		return nil, err
	}

	store, err := overture.NewStore(pool, cfg.Dataset.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}

	reference := osm.NewClient(cfg.Overpass.Endpoints,
		time.Duration(cfg.Overpass.TimeoutSecs)*time.Second)

	e := &env{pool: pool, store: store}
	e.fetcher, e.index, e.mem, err = newFetcher()
	if err != nil {
		pool.Close()
		return nil, err
	}

	e.service = housecount.NewService(store, reference, e.fetcher, nil)
	return e, nil
}

// newFetcher builds the tile fetcher over a memory-fronted disk cache with
// the SQLite stats index alongside it.
func newFetcher() (*tiles.Fetcher, *tiles.Index, *tiles.MemCache, error) {
	index, err := tiles.OpenIndex(filepath.Join(cfg.Tiles.CacheDir, "index.db"))
	if err != nil {
		return nil, nil, nil, err
	}

	disk, err := tiles.NewDiskCache(cfg.Tiles.CacheDir, index)
	if err != nil {
		_ = index.Close()
		return nil, nil, nil, err
	}
	mem := tiles.NewMemCache(cfg.Tiles.MemEntries, time.Hour)

	fetcher := tiles.NewFetcher(tiles.FetcherOptions{
		URLTemplate:   cfg.Tiles.URLTemplate,
		Concurrency:   cfg.Tiles.Concurrency,
		Timeout:       time.Duration(cfg.Tiles.TimeoutSecs) * time.Second,
		RatePerSecond: cfg.Tiles.RatePerSecond,
	}, tiles.NewLayered(mem, disk))

	return fetcher, index, mem, nil
}

// queryFlags is the lat/lon/radius/zoom flag set shared by the query commands.
type queryFlags struct {
	lat    float64
	lon    float64
	radius float64
	zoom   int
}

func (f *queryFlags) register(cmd *cobra.Command, withZoom bool) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "center latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "center longitude")
	cmd.Flags().Float64Var(&f.radius, "radius", 3.0, "search radius in km")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	if withZoom {
		cmd.Flags().IntVar(&f.zoom, "zoom", 0, "tile zoom level (default: auto)")
	}
}

func (f *queryFlags) query() footprint.Query {
	return footprint.Query{Lat: f.lat, Lon: f.lon, RadiusKM: f.radius, Zoom: f.zoom}
}
