package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/metrics"
	"github.com/agentic-research/tessera/internal/source"
	rasters "github.com/agentic-research/tessera/internal/testutil"
)

// fakeOpener serves canned headers keyed by path.
type fakeOpener map[string]*source.Info

func (f fakeOpener) Open(_ context.Context, path string) (*source.Info, error) {
	info, ok := f[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return info, nil
}

func tile(minx, maxy float64, srs string) *source.Info {
	return &source.Info{
		Width: 10, Height: 10, Bands: 3, DataType: source.Byte,
		GeoTransform: geo.NorthUp(minx, maxy, 1, 1),
		SRS:          srs,
	}
}

func newEngine(t *testing.T, opener source.Opener, opts Options) (*Engine, *catalog.Catalog) {
	t.Helper()
	c, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewEngine(opener, c, opts, zerolog.Nop()), c
}

func TestEngine_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts compatible grid", func(t *testing.T) {
		opener := fakeOpener{
			"a": tile(0, 20, "EPSG:3857"),
			"b": tile(10, 20, "EPSG:3857"),
			"c": tile(0, 10, "EPSG:3857"),
			"d": tile(10, 10, "EPSG:3857"),
		}
		e, c := newEngine(t, opener, Options{})

		res, err := e.Ingest(ctx, []string{"a", "b", "c", "d"})
		require.NoError(t, err)
		assert.Equal(t, 4, res.Accepted)
		assert.Empty(t, res.Rejected)
		assert.Equal(t, "EPSG:3857", res.SRS)
		assert.Equal(t, geo.Extent{MinX: 0, MinY: 0, MaxX: 20, MaxY: 20}, res.Extent)
		assert.Equal(t, 4, c.Len())
	})

	t.Run("rotated source skipped", func(t *testing.T) {
		rotated := tile(50, 50, "")
		rotated.GeoTransform[2] = 0.5
		opener := fakeOpener{"a": tile(0, 10, ""), "rot": rotated, "b": tile(10, 10, "")}
		e, c := newEngine(t, opener, Options{})

		before := testutil.ToFloat64(metrics.SourcesRejected.WithLabelValues("georeferencing"))
		res, err := e.Ingest(ctx, []string{"a", "rot", "b"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Accepted)
		require.Len(t, res.Rejected, 1)
		assert.Equal(t, "rot", res.Rejected[0].Path)
		assert.ErrorIs(t, res.Rejected[0], ErrGeoreferencing)
		assert.Equal(t, "georeferencing", res.Rejected[0].Reason())
		assert.Equal(t, geo.Extent{MinX: 0, MinY: 0, MaxX: 20, MaxY: 10}, c.Extent())
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.SourcesRejected.WithLabelValues("georeferencing")))
	})

	t.Run("south-up source skipped", func(t *testing.T) {
		southUp := tile(0, 0, "")
		southUp.GeoTransform[5] = 1
		e, _ := newEngine(t, fakeOpener{"s": southUp, "n": tile(0, 10, "")}, Options{})

		res, err := e.Ingest(ctx, []string{"s", "n"})
		require.NoError(t, err)
		require.Len(t, res.Rejected, 1)
		assert.ErrorIs(t, res.Rejected[0], ErrGeoreferencing)
	})

	t.Run("non-positive pixel width skipped", func(t *testing.T) {
		for _, width := range []float64{-0.1, 0} {
			bad := tile(5, 10, "")
			bad.GeoTransform[1] = width
			e, c := newEngine(t, fakeOpener{
				"a":    tile(0, 10, ""),
				"flip": bad,
				"b":    tile(10, 10, ""),
			}, Options{})

			res, err := e.Ingest(ctx, []string{"a", "flip", "b"})
			require.NoError(t, err, "width %g", width)
			assert.Equal(t, 2, res.Accepted)
			require.Len(t, res.Rejected, 1)
			assert.Equal(t, "flip", res.Rejected[0].Path)
			assert.ErrorIs(t, res.Rejected[0], ErrGeoreferencing)
			assert.Equal(t, geo.Extent{MinX: 0, MinY: 0, MaxX: 20, MaxY: 10}, c.Extent())
		}
	})

	t.Run("reference mismatch none versus concrete", func(t *testing.T) {
		e, _ := newEngine(t, fakeOpener{"plain": tile(0, 10, ""), "utm": tile(10, 10, "EPSG:32633")}, Options{})

		res, err := e.Ingest(ctx, []string{"plain", "utm"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Accepted)
		assert.Empty(t, res.SRS)
		require.Len(t, res.Rejected, 1)
		assert.Equal(t, "utm", res.Rejected[0].Path)
		assert.ErrorIs(t, res.Rejected[0], ErrReferenceMismatch)
	})

	t.Run("open failure skipped", func(t *testing.T) {
		e, _ := newEngine(t, fakeOpener{"a": tile(0, 10, "")}, Options{})

		res, err := e.Ingest(ctx, []string{"missing", "a"})
		require.NoError(t, err)
		require.Len(t, res.Rejected, 1)
		assert.ErrorIs(t, res.Rejected[0], ErrOpenFailure)
	})

	t.Run("stop on error is fatal", func(t *testing.T) {
		var opens atomic.Int32
		inner := fakeOpener{"a": tile(0, 10, ""), "c": tile(20, 10, "")}
		opener := source.Func(func(ctx context.Context, path string) (*source.Info, error) {
			opens.Add(1)
			return inner.Open(ctx, path)
		})
		e, _ := newEngine(t, opener, Options{StopOnError: true})

		_, err := e.Ingest(ctx, []string{"a", "missing", "c"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOpenFailure)
		var serr *SourceError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, "missing", serr.Path)
		assert.Equal(t, int32(2), opens.Load())
	})

	t.Run("empty catalog always fatal", func(t *testing.T) {
		e, _ := newEngine(t, fakeOpener{}, Options{})
		_, err := e.Ingest(ctx, []string{"x", "y"})
		assert.ErrorIs(t, err, ErrEmptyCatalog)

		e, _ = newEngine(t, fakeOpener{}, Options{})
		_, err = e.Ingest(ctx, nil)
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		e, _ := newEngine(t, fakeOpener{"a": tile(0, 10, "")}, Options{})
		_, err := e.Ingest(cctx, []string{"a"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngine_ParallelOpenKeepsOrder(t *testing.T) {
	ctx := context.Background()
	opener := fakeOpener{}
	var inputs []string
	for i := 0; i < 64; i++ {
		p := fmt.Sprintf("t%02d", i)
		srs := "EPSG:4326"
		if i == 0 {
			srs = "" // the first input fixes the reference even when read last
		}
		opener[p] = tile(float64(i*10), 10, srs)
		inputs = append(inputs, p)
	}

	seq, seqCat := newEngine(t, opener, Options{})
	seqRes, err := seq.Ingest(ctx, inputs)
	require.NoError(t, err)

	par, parCat := newEngine(t, opener, Options{OpenWorkers: 8})
	parRes, err := par.Ingest(ctx, inputs)
	require.NoError(t, err)

	assert.Equal(t, 1, parRes.Accepted)
	assert.Equal(t, seqRes.Accepted, parRes.Accepted)
	assert.Equal(t, len(seqRes.Rejected), len(parRes.Rejected))
	for i := range seqRes.Rejected {
		assert.Equal(t, seqRes.Rejected[i].Path, parRes.Rejected[i].Path)
	}
	assert.Equal(t, seqCat.Extent(), parCat.Extent())
}

func TestEngine_WithFileOpener(t *testing.T) {
	fs := memfs.New()
	rasters.WriteRaster(t, fs, rasters.Raster{Path: "/in/a.png", MinX: 0, MaxY: 10, SRS: "EPSG:2056"})
	rasters.WriteRaster(t, fs, rasters.Raster{Path: "/in/b.tif", MinX: 10, MaxY: 10, SRS: "EPSG:2056", Gray: true})

	e, c := newEngine(t, source.NewFileOpener(fs), Options{})
	res, err := e.Ingest(context.Background(), []string{"/in/a.png", "/in/b.tif"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)

	all, err := c.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 3, all[0].Bands)
	assert.Equal(t, 1, all[1].Bands)
	assert.Equal(t, 1.0, all[1].ResX)
}
