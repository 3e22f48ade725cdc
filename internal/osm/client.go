// Package osm queries OpenStreetMap building footprints through the Overpass
// API. It is the crowdsourced reference source for comparison endpoints.
package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parcelworks/housecount/internal/footprint"
	"github.com/parcelworks/housecount/internal/resilience"
)

// residentialFilter selects the building types counted as houses. Matches
// the classes the primary dataset detects from imagery.
const residentialFilter = `"building"~"^(house|residential|detached|semidetached_house|terrace|apartments|bungalow)$"`

// Client talks to Overpass with endpoint fallback. OSM footprints carry no
// area (count-only source), so AreaSqm stays 0.
type Client struct {
	endpoints []string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// Option tweaks client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates an Overpass client with the given endpoints, first is
// preferred and the rest are fallbacks.
func NewClient(endpoints []string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &Client{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(2, 2),
		userAgent: "housecount/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source identifies this client's dataset.
func (c *Client) Source() footprint.Source { return footprint.SourceOSM }

// Query returns residential building ways inside the lat/lon envelope,
// with full way geometry for overlay rendering.
func (c *Client) Query(ctx context.Context, bound orb.Bound) ([]footprint.Footprint, error) {
	// Overpass bbox order is (south, west, north, east).
	bbox := fmt.Sprintf("%v,%v,%v,%v",
		bound.Min.Lat(), bound.Min.Lon(), bound.Max.Lat(), bound.Max.Lon())
	query := fmt.Sprintf(`
[out:json][timeout:120];
(
  way[%s](%s);
);
out body geom;
`, residentialFilter, bbox)

	data, err := c.run(ctx, query)
	if err != nil {
		return nil, &footprint.SourceError{Src: footprint.SourceOSM, Err: err}
	}

	fps := make([]footprint.Footprint, 0, len(data.Elements))
	seen := make(map[int64]bool, len(data.Elements))
	for _, el := range data.Elements {
		if el.Type != "way" || len(el.Geometry) < 3 || seen[el.ID] {
			continue
		}
		seen[el.ID] = true

		ring := make(orb.Ring, 0, len(el.Geometry))
		for _, pt := range el.Geometry {
			ring = append(ring, orb.Point{pt.Lon, pt.Lat})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		poly := orb.Polygon{ring}

		fps = append(fps, footprint.Footprint{
			ID:       strconv.FormatInt(el.ID, 10),
			Polygon:  poly,
			Centroid: footprint.CentroidOf(poly),
			Source:   footprint.SourceOSM,
		})
	}

	zap.L().Debug("osm: overpass query", zap.Int("ways", len(fps)))
	return fps, nil
}

// overpassResponse is the subset of the Overpass JSON envelope we read.
type overpassResponse struct {
	Elements []struct {
		Type     string `json:"type"`
		ID       int64  `json:"id"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

// run posts the query to each endpoint in order until one succeeds.
func (c *Client) run(ctx context.Context, query string) (*overpassResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "osm: rate limiter wait")
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		resp, err := c.post(ctx, endpoint, query)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		zap.L().Warn("osm: overpass endpoint failed, trying next",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = eris.New("osm: no overpass endpoints configured")
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, endpoint, query string) (*overpassResponse, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "osm: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "osm: post query")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("osm: overpass returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "osm: read response")
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "osm: decode response")
	}
	return &parsed, nil
}
