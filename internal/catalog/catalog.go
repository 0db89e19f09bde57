// Package catalog is the per-run spatial index of accepted raster sources.
//
// Records live in a SQLite database: a plain `sources` table holds the
// exact header facts and an R*Tree virtual table answers range queries.
// The R*Tree stores 32-bit coordinates rounded outwards, so it only
// produces candidates; the exact float64 overlap test runs in Go.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/tessera/internal/geo"
)

// Resolution strategies for picking a common pixel size.
const (
	ResolutionAverage = "average"
	ResolutionHighest = "highest"
	ResolutionLowest  = "lowest"
)

var ErrEmpty = errors.New("catalog is empty")

// Record is one accepted source. Records are immutable once inserted.
type Record struct {
	ID       uint32
	Path     string
	Bounds   geo.Extent
	SRS      string
	Width    int
	Height   int
	Bands    int
	DataType string
	HasAlpha bool
	ResX     float64
	ResY     float64
}

// Catalog indexes records by footprint. Inserts are batched into a
// transaction that is committed before any read.
type Catalog struct {
	mu        sync.Mutex
	db        *sql.DB
	tx        *sql.Tx
	stmtSrc   *sql.Stmt
	stmtIdx   *sql.Stmt
	batchSize int
	pending   int

	nextID uint32
	ids    *roaring.Bitmap
	extent geo.Extent
}

const schema = `
CREATE TABLE sources (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL,
	minx REAL NOT NULL,
	miny REAL NOT NULL,
	maxx REAL NOT NULL,
	maxy REAL NOT NULL,
	srs TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bands INTEGER NOT NULL,
	data_type TEXT NOT NULL,
	has_alpha INTEGER NOT NULL,
	resx REAL NOT NULL,
	resy REAL NOT NULL
);
CREATE VIRTUAL TABLE source_index USING rtree(id, minx, maxx, miny, maxy);
`

// Open creates an empty catalog. An empty path keeps it in memory; a file
// path is truncated first so every run starts clean.
func Open(path string) (*Catalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reset catalog %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// A :memory: database is private to its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Catalog{
		db:        db,
		batchSize: 10000,
		ids:       roaring.New(),
		extent:    geo.EmptyExtent(),
	}, nil
}

func (c *Catalog) beginTx() error {
	var err error
	c.tx, err = c.db.Begin()
	if err != nil {
		return err
	}
	c.stmtSrc, err = c.tx.Prepare(`
		INSERT INTO sources (id, path, minx, miny, maxx, maxy, srs, width, height, bands, data_type, has_alpha, resx, resy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	c.stmtIdx, err = c.tx.Prepare(`INSERT INTO source_index (id, minx, maxx, miny, maxy) VALUES (?, ?, ?, ?, ?)`)
	return err
}

func (c *Catalog) commitTx() error {
	if c.tx == nil {
		return nil
	}
	if c.stmtSrc != nil {
		_ = c.stmtSrc.Close()
	}
	if c.stmtIdx != nil {
		_ = c.stmtIdx.Close()
	}
	err := c.tx.Commit()
	c.tx, c.stmtSrc, c.stmtIdx, c.pending = nil, nil, nil, 0
	return err
}

// Insert stores r under the next sequential ID and returns that ID.
// The ID field of r is ignored.
func (c *Catalog) Insert(r Record) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		if err := c.beginTx(); err != nil {
			return 0, fmt.Errorf("begin insert batch: %w", err)
		}
	}

	id := c.nextID
	b := r.Bounds
	alpha := 0
	if r.HasAlpha {
		alpha = 1
	}
	if _, err := c.stmtSrc.Exec(id, r.Path, b.MinX, b.MinY, b.MaxX, b.MaxY, r.SRS,
		r.Width, r.Height, r.Bands, r.DataType, alpha, r.ResX, r.ResY); err != nil {
		return 0, fmt.Errorf("insert %s: %w", r.Path, err)
	}
	if _, err := c.stmtIdx.Exec(id, b.MinX, b.MaxX, b.MinY, b.MaxY); err != nil {
		return 0, fmt.Errorf("index %s: %w", r.Path, err)
	}

	c.nextID++
	c.ids.Add(id)
	c.extent = c.extent.Union(b)

	c.pending++
	if c.pending >= c.batchSize {
		if err := c.commitTx(); err != nil {
			return 0, fmt.Errorf("commit insert batch: %w", err)
		}
	}
	return id, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.ids.GetCardinality())
}

// Extent returns the union of all record footprints.
func (c *Catalog) Extent() geo.Extent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extent
}

// IDs returns a copy of the set of record IDs.
func (c *Catalog) IDs() *roaring.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.Clone()
}

const selectRecord = `SELECT s.id, s.path, s.minx, s.miny, s.maxx, s.maxy, s.srs, s.width, s.height,
	s.bands, s.data_type, s.has_alpha, s.resx, s.resy FROM sources s`

// Query returns the records whose footprint overlaps q with positive area,
// ordered by ID.
func (c *Catalog) Query(ctx context.Context, q geo.Extent) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitTx(); err != nil {
		return nil, fmt.Errorf("commit insert batch: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, selectRecord+`
		JOIN source_index r ON r.id = s.id
		WHERE r.maxx >= ? AND r.minx <= ? AND r.maxy >= ? AND r.miny <= ?
		ORDER BY s.id`, q.MinX, q.MaxX, q.MinY, q.MaxY)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if r.Bounds.Overlaps(q) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// All returns every record ordered by ID.
func (c *Catalog) All(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitTx(); err != nil {
		return nil, fmt.Errorf("commit insert batch: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, selectRecord+` ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Resolution aggregates the per-source pixel sizes with the given strategy.
func (c *Catalog) Resolution(ctx context.Context, strategy string) (resX, resY float64, err error) {
	var agg string
	switch strategy {
	case ResolutionAverage, "":
		agg = "AVG"
	case ResolutionHighest:
		agg = "MIN"
	case ResolutionLowest:
		agg = "MAX"
	default:
		return 0, 0, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitTx(); err != nil {
		return 0, 0, fmt.Errorf("commit insert batch: %w", err)
	}
	var x, y sql.NullFloat64
	q := fmt.Sprintf("SELECT %[1]s(resx), %[1]s(resy) FROM sources", agg)
	if err := c.db.QueryRowContext(ctx, q).Scan(&x, &y); err != nil {
		return 0, 0, fmt.Errorf("aggregate resolution: %w", err)
	}
	if !x.Valid || !y.Valid {
		return 0, 0, ErrEmpty
	}
	return x.Float64, y.Float64, nil
}

// Layout reports the widest band layout across all records: the maximum
// colour band count, whether any record stores 16-bit samples, and whether
// any record carries alpha.
func (c *Catalog) Layout(ctx context.Context) (bands int, wide, alpha bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitTx(); err != nil {
		return 0, false, false, fmt.Errorf("commit insert batch: %w", err)
	}
	var b, w, a sql.NullInt64
	row := c.db.QueryRowContext(ctx,
		`SELECT MAX(bands), MAX(data_type = 'UInt16'), MAX(has_alpha) FROM sources`)
	if err := row.Scan(&b, &w, &a); err != nil {
		return 0, false, false, fmt.Errorf("aggregate layout: %w", err)
	}
	if !b.Valid {
		return 0, false, false, ErrEmpty
	}
	return int(b.Int64), w.Int64 != 0, a.Int64 != 0, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var alpha int
	if err := rows.Scan(&r.ID, &r.Path, &r.Bounds.MinX, &r.Bounds.MinY, &r.Bounds.MaxX, &r.Bounds.MaxY,
		&r.SRS, &r.Width, &r.Height, &r.Bands, &r.DataType, &alpha, &r.ResX, &r.ResY); err != nil {
		return Record{}, fmt.Errorf("scan source row: %w", err)
	}
	r.HasAlpha = alpha != 0
	return r, nil
}

// Close discards the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.commitTx(); err != nil {
		_ = c.db.Close()
		return err
	}
	return c.db.Close()
}
