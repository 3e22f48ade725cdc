package tiles

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/parcelworks/housecount/internal/geo"
)

// Index records what the disk cache holds in a small SQLite database, so
// cache statistics survive restarts without walking the tile tree.
type Index struct {
	db *sql.DB
}

const indexMigration = `
CREATE TABLE IF NOT EXISTS tiles (
	zoom       INTEGER NOT NULL,
	x          INTEGER NOT NULL,
	y          INTEGER NOT NULL,
	bytes      INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (zoom, x, y)
);

CREATE INDEX IF NOT EXISTS idx_tiles_zoom ON tiles(zoom);
`

// OpenIndex opens (or creates) the stats index at the given path.
func OpenIndex(dsn string) (*Index, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: open index")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "tiles: exec %s", pragma)
		}
	}
	if _, err := db.Exec(indexMigration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "tiles: migrate index")
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Record upserts one tile's bookkeeping row. Failures are logged, never
// propagated: stats must not break tile serving.
func (i *Index) Record(t geo.Tile, size int) {
	_, err := i.db.Exec(`
		INSERT INTO tiles (zoom, x, y, bytes, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (zoom, x, y) DO UPDATE SET bytes = excluded.bytes, fetched_at = excluded.fetched_at`,
		t.Zoom, t.X, t.Y, size, time.Now().UTC(),
	)
	if err != nil {
		zap.L().Warn("tiles: index record failed", zap.Stringer("tile", t), zap.Error(err))
	}
}

// Stats summarizes the cached tile inventory.
type Stats struct {
	TileCount  int     `json:"tile_count"`
	TotalBytes int64   `json:"total_bytes"`
	TotalMB    float64 `json:"total_mb"`
	ByZoom     []Zoom  `json:"by_zoom"`
}

// Zoom is the per-zoom-level slice of Stats.
type Zoom struct {
	Zoom      int   `json:"zoom"`
	TileCount int   `json:"tile_count"`
	Bytes     int64 `json:"bytes"`
}

// Stats reads the aggregate inventory from the index.
func (i *Index) Stats() (Stats, error) {
	var s Stats
	err := i.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM tiles`).
		Scan(&s.TileCount, &s.TotalBytes)
	if err != nil {
		return Stats{}, eris.Wrap(err, "tiles: index totals")
	}
	s.TotalMB = float64(s.TotalBytes) / (1024 * 1024)

	rows, err := i.db.Query(`
		SELECT zoom, COUNT(*), SUM(bytes) FROM tiles GROUP BY zoom ORDER BY zoom`)
	if err != nil {
		return Stats{}, eris.Wrap(err, "tiles: index by zoom")
	}
	defer rows.Close()

	for rows.Next() {
		var z Zoom
		if err := rows.Scan(&z.Zoom, &z.TileCount, &z.Bytes); err != nil {
			return Stats{}, eris.Wrap(err, "tiles: scan zoom row")
		}
		s.ByZoom = append(s.ByZoom, z)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, eris.Wrap(err, "tiles: iterate zoom rows")
	}
	return s, nil
}
