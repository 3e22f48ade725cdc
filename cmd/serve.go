package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/geo"
	"github.com/parcelworks/housecount/internal/housecount"
	"github.com/parcelworks/housecount/internal/tiles"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: withRequestID(newMux(env.service, env.index, env.mem, cfg.Render.OutputDir)),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newMux wires the API routes. index may be nil; /tiles/stats then 404s.
// Rendered maps from the *-with-map endpoints are saved under outputDir.
func newMux(svc *housecount.Service, index *tiles.Index, mem *tiles.MemCache, outputDir string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /count", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := svc.Count(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, countResponse{
			CountResult: res,
			Message:     svc.CountMessage(q, res),
		})
	})

	mux.HandleFunc("GET /map", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := svc.Map(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		setDegradedHeader(w, res)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.PNG)
	})

	mux.HandleFunc("GET /count-with-map", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := svc.Map(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		path, err := saveMap(outputDir, res)
		if err != nil {
			writeError(w, err)
			return
		}
		setDegradedHeader(w, res)
		writeJSON(w, http.StatusOK, countWithMapResponse{
			countResponse: countResponse{
				CountResult: res.Count,
				Message:     svc.CountMessage(q, res.Count),
			},
			mapInfo: newMapInfo(path, res),
		})
	})

	mux.HandleFunc("GET /compare", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := svc.Compare(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET /compare-with-map", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		cmpRes, mapRes, err := svc.CompareWithMap(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		path, err := saveMap(outputDir, mapRes)
		if err != nil {
			writeError(w, err)
			return
		}
		setDegradedHeader(w, mapRes)
		writeJSON(w, http.StatusOK, compareWithMapResponse{
			CompareResult: cmpRes,
			mapInfo:       newMapInfo(path, mapRes),
		})
	})

	mux.HandleFunc("GET /zoom-info", func(w http.ResponseWriter, r *http.Request) {
		q, err := parseZoomQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		info, err := svc.ZoomInfo(q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /tiles/stats", func(w http.ResponseWriter, r *http.Request) {
		if index == nil {
			http.NotFound(w, r)
			return
		}
		stats, err := index.Stats()
		if err != nil {
			writeError(w, err)
			return
		}
		resp := tileStatsResponse{Stats: stats}
		if mem != nil {
			resp.MemHitRate = mem.HitRate()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

type countResponse struct {
	footprint.CountResult
	Message string `json:"message"`
}

// tileStatsResponse adds the in-process cache hit rate to the durable
// inventory the index tracks.
type tileStatsResponse struct {
	tiles.Stats
	MemHitRate float64 `json:"mem_hit_rate"`
}

// mapInfo describes a map PNG saved by a *-with-map endpoint.
type mapInfo struct {
	MapPath       string   `json:"map_path"`
	Grid          geo.Grid `json:"grid"`
	ImageSize     int      `json:"image_size"`
	DegradedTiles []string `json:"degraded_tiles,omitempty"`
}

func newMapInfo(path string, res *housecount.MapResult) mapInfo {
	return mapInfo{
		MapPath:       path,
		Grid:          res.Grid,
		ImageSize:     res.Grid.PixelSize(),
		DegradedTiles: degradedStrings(res),
	}
}

type countWithMapResponse struct {
	countResponse
	mapInfo
}

type compareWithMapResponse struct {
	*housecount.CompareResult
	mapInfo
}

// saveMap writes the rendered PNG into outputDir with a grid-derived name.
func saveMap(outputDir string, res *housecount.MapResult) (string, error) {
	if outputDir == "" {
		outputDir = "."
	}
	name := fmt.Sprintf("map_z%d_%d_%d_%s.png",
		res.Grid.Zoom, res.Grid.Origin.X, res.Grid.Origin.Y,
		time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, res.PNG, 0o644); err != nil {
		return "", eris.Wrap(err, "save map png")
	}
	return path, nil
}

// parseQuery reads lat/lon/radius_km/zoom from the URL query. Missing or
// unparseable values become validation errors so they surface as 400s.
func parseQuery(r *http.Request) (footprint.Query, error) {
	var q footprint.Query
	var err error

	get := r.URL.Query().Get
	if q.Lat, err = strconv.ParseFloat(get("lat"), 64); err != nil {
		return q, footprint.Invalidf("lat is required and must be a number")
	}
	if q.Lon, err = strconv.ParseFloat(get("lon"), 64); err != nil {
		return q, footprint.Invalidf("lon is required and must be a number")
	}
	if q.RadiusKM, err = strconv.ParseFloat(get("radius_km"), 64); err != nil {
		return q, footprint.Invalidf("radius_km is required and must be a number")
	}
	if raw := get("zoom"); raw != "" {
		if q.Zoom, err = strconv.Atoi(raw); err != nil {
			return q, footprint.Invalidf("zoom must be an integer, got %q", raw)
		}
	}
	return q, nil
}

// parseZoomQuery reads radius_km plus optional lat/lon. The zoom table only
// needs the radius; latitude refines the meters-per-pixel column and
// defaults to the equator when absent.
func parseZoomQuery(r *http.Request) (footprint.Query, error) {
	var q footprint.Query
	var err error

	get := r.URL.Query().Get
	if q.RadiusKM, err = strconv.ParseFloat(get("radius_km"), 64); err != nil {
		return q, footprint.Invalidf("radius_km is required and must be a number")
	}
	if raw := get("lat"); raw != "" {
		if q.Lat, err = strconv.ParseFloat(raw, 64); err != nil {
			return q, footprint.Invalidf("lat must be a number, got %q", raw)
		}
	}
	if raw := get("lon"); raw != "" {
		if q.Lon, err = strconv.ParseFloat(raw, 64); err != nil {
			return q, footprint.Invalidf("lon must be a number, got %q", raw)
		}
	}
	return q, nil
}

func setDegradedHeader(w http.ResponseWriter, res *housecount.MapResult) {
	if len(res.DegradedTiles) > 0 {
		w.Header().Set("X-Degraded-Tiles", strings.Join(degradedStrings(res), ","))
	}
}

func degradedStrings(res *housecount.MapResult) []string {
	if len(res.DegradedTiles) == 0 {
		return nil
	}
	out := make([]string, len(res.DegradedTiles))
	for i, t := range res.DegradedTiles {
		out[i] = t.String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var srcErr *footprint.SourceError
	switch {
	case footprint.IsValidation(err):
		status = http.StatusBadRequest
	case eris.As(err, &srcErr):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// withRequestID tags every request with a UUID and logs its outcome.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		zap.L().Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
