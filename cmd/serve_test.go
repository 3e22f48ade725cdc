package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/geo"
	"github.com/parcelworks/housecount/internal/housecount"
	"github.com/parcelworks/housecount/internal/tiles"
)

type stubSource struct {
	src footprint.Source
	fps []footprint.Footprint
}

func (s *stubSource) Source() footprint.Source { return s.src }

func (s *stubSource) Query(_ context.Context, _ orb.Bound) ([]footprint.Footprint, error) {
	return s.fps, nil
}

type stubTiles struct {
	data []byte
	fail map[geo.Tile]bool
}

func (s *stubTiles) FetchGrid(_ context.Context, ts []geo.Tile) (map[geo.Tile][]byte, []geo.Tile, error) {
	fetched := make(map[geo.Tile][]byte, len(ts))
	var degraded []geo.Tile
	for _, t := range ts {
		if s.fail[t] {
			degraded = append(degraded, t)
			continue
		}
		fetched[t] = s.data
	}
	return fetched, degraded, nil
}

func tilePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, geo.TileSize, geo.TileSize))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testMux(t *testing.T, failTiles ...geo.Tile) *http.ServeMux {
	t.Helper()

	center := orb.Point{-95.816314, 36.060345}
	fps := make([]footprint.Footprint, 1000)
	for i := range fps {
		fps[i] = footprint.Footprint{Centroid: center, AreaSqm: 346.0, Source: footprint.SourceMicrosoft}
	}
	osmFps := make([]footprint.Footprint, 352)
	for i := range osmFps {
		osmFps[i] = footprint.Footprint{Centroid: center, Source: footprint.SourceOSM}
	}

	fail := make(map[geo.Tile]bool, len(failTiles))
	for _, tl := range failTiles {
		fail[tl] = true
	}

	svc := housecount.NewService(
		&stubSource{src: footprint.SourceMicrosoft, fps: fps},
		&stubSource{src: footprint.SourceOSM, fps: osmFps},
		&stubTiles{data: tilePNG(t), fail: fail},
		nil,
	)
	return newMux(svc, nil, nil, t.TempDir())
}

func TestServe_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_Count(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/count?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		BuildingCount int     `json:"building_count"`
		TotalAreaSqm  float64 `json:"total_area_sqm"`
		Message       string  `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1000, resp.BuildingCount)
	assert.InDelta(t, 346000.0, resp.TotalAreaSqm, 0.001)
	assert.Equal(t, "Found 1,000 buildings within 3.0 km", resp.Message)
}

func TestServe_Count_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"missing lat", "/count?lon=-95.8&radius_km=3"},
		{"bad lat", "/count?lat=abc&lon=-95.8&radius_km=3"},
		{"lat out of range", "/count?lat=91&lon=-95.8&radius_km=3"},
		{"missing radius", "/count?lat=36&lon=-95.8"},
		{"radius too large", "/count?lat=36&lon=-95.8&radius_km=11"},
		{"radius zero", "/count?lat=36&lon=-95.8&radius_km=0"},
		{"zoom out of range", "/count?lat=36&lon=-95.8&radius_km=3&zoom=25"},
	}

	mux := testMux(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServe_Map_DegradedHeader(t *testing.T) {
	grid := geo.RenderGrid(36.060345, -95.816314, 3.0, 0)
	bad := grid.Origin

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/map?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t, bad).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, bad.String(), rec.Header().Get("X-Degraded-Tiles"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 1280, img.Bounds().Dx())
}

func TestServe_CountWithMap(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/count-with-map?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		BuildingCount int    `json:"building_count"`
		MapPath       string `json:"map_path"`
		ImageSize     int    `json:"image_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1000, resp.BuildingCount)
	assert.Equal(t, 1280, resp.ImageSize)
	require.NotEmpty(t, resp.MapPath)
	assert.FileExists(t, resp.MapPath)
	assert.Empty(t, rec.Header().Get("X-Degraded-Tiles"))
}

func TestServe_Compare(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/compare?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp housecount.CompareResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1000, resp.Primary.Count.BuildingCount)
	assert.Equal(t, 352, resp.Reference.Count.BuildingCount)
	assert.Equal(t, 648, resp.Delta)
	assert.Equal(t, "+648 (+184.1%)", resp.Summary)
}

func TestServe_ZoomInfo(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/zoom-info?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp housecount.ZoomInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 14, resp.AutoZoom)
	assert.Len(t, resp.Levels, 9)
}

func TestServe_ZoomInfo_RadiusOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/zoom-info?radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "the zoom table needs only a radius")

	var resp housecount.ZoomInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 14, resp.AutoZoom)
	assert.Len(t, resp.Levels, 9)
}

func TestServe_ZoomInfo_MissingRadius(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zoom-info", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "radius_km")
}

func TestServe_CompareWithMap(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/compare-with-map?lat=36.060345&lon=-95.816314&radius_km=3", nil)
	testMux(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Summary   string `json:"summary"`
		MapPath   string `json:"map_path"`
		ImageSize int    `json:"image_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+648 (+184.1%)", resp.Summary)
	assert.Equal(t, 1280, resp.ImageSize)
	require.NotEmpty(t, resp.MapPath)
	assert.FileExists(t, resp.MapPath)
}

func TestServe_TilesStats_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	testMux(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_TilesStats(t *testing.T) {
	dir := t.TempDir()
	index, err := tiles.OpenIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer index.Close()

	index.Record(geo.Tile{Zoom: 14, X: 1, Y: 1}, 100)
	index.Record(geo.Tile{Zoom: 14, X: 1, Y: 2}, 50)

	mem := tiles.NewMemCache(10, 0)
	tile := geo.Tile{Zoom: 14, X: 1, Y: 1}
	require.NoError(t, mem.Put(tile, []byte("x")))
	// One hit, one miss: rate 0.5.
	_, _ = mem.Get(tile)
	_, _ = mem.Get(geo.Tile{Zoom: 14, X: 9, Y: 9})

	svc := housecount.NewService(&stubSource{src: footprint.SourceMicrosoft}, nil, nil, nil)
	mux := newMux(svc, index, mem, dir)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TileCount  int     `json:"tile_count"`
		TotalBytes int64   `json:"total_bytes"`
		MemHitRate float64 `json:"mem_hit_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TileCount)
	assert.Equal(t, int64(150), resp.TotalBytes)
	assert.InDelta(t, 0.5, resp.MemHitRate, 0.0001)
}

func TestWithRequestID(t *testing.T) {
	handler := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/count?lat=36.06&lon=-95.81&radius_km=2.5", nil)
	q, err := parseQuery(req)
	require.NoError(t, err)
	assert.Equal(t, 36.06, q.Lat)
	assert.Equal(t, -95.81, q.Lon)
	assert.Equal(t, 2.5, q.RadiusKM)
	assert.Zero(t, q.Zoom, "zoom optional, auto-derived downstream")
}
