package tiles

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/parcelworks/housecount/internal/geo"
	"github.com/parcelworks/housecount/internal/resilience"
)

// FetcherOptions configures the tile fetcher.
type FetcherOptions struct {
	// URLTemplate contains {x}, {y} and {z} placeholders.
	URLTemplate string

	// Concurrency bounds parallel downloads within one grid fetch.
	Concurrency int

	// Timeout applies per tile request.
	Timeout time.Duration

	// RatePerSecond throttles requests to the tile provider.
	RatePerSecond float64

	UserAgent string
}

// Fetcher downloads basemap tiles through a Cache. A grid fetch degrades
// failed tiles to blanks and reports them rather than failing the map.
type Fetcher struct {
	opts    FetcherOptions
	client  *http.Client
	cache   Cache
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewFetcher creates a Fetcher. cache may be nil to always hit the network.
func NewFetcher(opts FetcherOptions, cache Cache) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 50
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "housecount/1.0"
	}
	return &Fetcher{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency),
		retry:   resilience.DefaultRetryConfig(),
	}
}

// URL expands the template for one tile.
func (f *Fetcher) URL(t geo.Tile) string {
	r := strings.NewReplacer(
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{z}", strconv.Itoa(t.Zoom),
	)
	return r.Replace(f.opts.URLTemplate)
}

// GetTile returns the tile bytes, reading through the cache. Repeated calls
// for the same coordinate return byte-identical data.
func (f *Fetcher) GetTile(ctx context.Context, t geo.Tile) ([]byte, error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(t); ok {
			return data, nil
		}
	}

	cfg := f.retry
	cfg.OnRetry = resilience.RetryLogger("tiles", "fetch")
	data, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return f.fetchOnce(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Put(t, data); err != nil {
			zap.L().Warn("tiles: cache write failed", zap.Stringer("tile", t), zap.Error(err))
		}
	}
	return data, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, t geo.Tile) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "tiles: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(t), nil)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: fetch %s", t)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("tiles: provider returned %d for %s", resp.StatusCode, t)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: read %s", t)
	}
	return data, nil
}

// FetchGrid downloads all tiles concurrently, bounded by Concurrency. Tiles
// that fail after retry are omitted from the result map and listed in
// degraded; the compositor substitutes blanks for them. The error return is
// non-nil only on context cancellation.
func (f *Fetcher) FetchGrid(ctx context.Context, ts []geo.Tile) (map[geo.Tile][]byte, []geo.Tile, error) {
	var (
		mu       sync.Mutex
		fetched  = make(map[geo.Tile][]byte, len(ts))
		degraded []geo.Tile
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	for _, t := range ts {
		t := t
		g.Go(func() error {
			data, err := f.GetTile(ctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				zap.L().Warn("tiles: degraded to blank", zap.Stringer("tile", t), zap.Error(err))
				degraded = append(degraded, t)
				return nil
			}
			fetched[t] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "tiles: grid fetch canceled")
	}

	sort.Slice(degraded, func(i, j int) bool {
		a, b := degraded[i], degraded[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return fetched, degraded, nil
}
