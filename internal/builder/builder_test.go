package builder

import (
	"context"
	"fmt"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/tessera/api"
	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/ingest"
	"github.com/agentic-research/tessera/internal/metrics"
	"github.com/agentic-research/tessera/internal/mosaic"
	"github.com/agentic-research/tessera/internal/overview"
	"github.com/agentic-research/tessera/internal/source"
	rasters "github.com/agentic-research/tessera/internal/testutil"
)

// tileGrid writes n x n unit tiles of 8x8 pixels over (0,0)-(n,n). The
// resolution is a power of two so world files round-trip exactly.
func tileGrid(t *testing.T, fs billy.Filesystem, n int) []string {
	var paths []string
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			p := fmt.Sprintf("/data/t_%d_%d.png", x, y)
			rasters.WriteRaster(t, fs, rasters.Raster{Path: p, MinX: float64(x), MaxY: float64(y + 1), Width: 8, Height: 8, Res: 0.125})
			paths = append(paths, p)
		}
	}
	return paths
}

func newBuilder(fs billy.Filesystem, opts Options) *Builder {
	return New(source.NewFileOpener(fs), mosaic.NewFSWriter(fs), overview.NewTIFFBuilder(fs), opts, zerolog.Nop())
}

func readVRT(t *testing.T, fs billy.Filesystem, path string) *api.VRTDataset {
	t.Helper()
	data, err := util.ReadFile(fs, path)
	require.NoError(t, err)
	d, err := api.Unmarshal(data)
	require.NoError(t, err)
	return d
}

func TestRun_Degenerate(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 2)

	b := newBuilder(fs, Options{Output: "/out/mosaic.vrt", MaxPerCell: 4})
	out, err := b.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.True(t, out.Plan.Degenerate())
	assert.Empty(t, out.Cells)
	assert.Equal(t, geo.Extent{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}, out.Ingest.Extent)

	d := readVRT(t, fs, "/out/mosaic.vrt")
	assert.Equal(t, 16, d.RasterXSize)
	assert.Equal(t, 16, d.RasterYSize)
	require.Len(t, d.Bands, 3)
	for _, band := range d.Bands {
		assert.Len(t, band.Sources, 4)
		for _, s := range band.Sources {
			assert.Equal(t, 0, s.Filename.RelativeToVRT)
			assert.True(t, strings.HasPrefix(s.Filename.Path, "/data/t_"))
		}
	}

	entries, err := fs.ReadDir("/out")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no intermediate mosaics")
}

func TestRun_Cells(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 4)
	built := testutil.ToFloat64(metrics.CellsBuilt)

	b := newBuilder(fs, Options{
		Output:          "/out/m.vrt",
		IntermediateDir: "/out/cells",
		MaxPerCell:      4,
		Resampling:      "nearest",
		Overviews:       overview.Explicit{Factors: []int{2}},
		Jobs:            3,
	})
	out, err := b.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Plan.CellsX)
	assert.Equal(t, 2, out.Plan.CellsY)
	require.Len(t, out.Cells, 4)
	assert.Zero(t, out.Shared, "tiles touching a cell edge stay in one cell")
	assert.Equal(t, built+4, testutil.ToFloat64(metrics.CellsBuilt))

	names := make([]string, len(out.Cells))
	for k, c := range out.Cells {
		names[k] = c.Name
		assert.Equal(t, 4, c.Sources)
		assert.Equal(t, []int{2}, c.Overviews)

		cell := readVRT(t, fs, c.Path)
		assert.Equal(t, 16, cell.RasterXSize)
		assert.Equal(t, "nearest", cell.Bands[0].Sources[0].Resampling)
		require.Len(t, cell.Bands[0].Overviews, 1)
		assert.Equal(t, c.Name+".vrt.ovr2.tif", cell.Bands[0].Overviews[0].Filename.Path)
		_, err := fs.Stat(overview.LevelPath(c.Path, 2))
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"m_0_0", "m_1_0", "m_0_1", "m_1_1"}, names, "row-major order")

	top := readVRT(t, fs, "/out/m.vrt")
	assert.Equal(t, 32, top.RasterXSize)
	assert.Equal(t, api.GeoTransform{0, 0.125, 0, 4, 0, -0.125}, top.GeoTransform)
	require.Len(t, top.Bands[0].Sources, 4)
	first := top.Bands[0].Sources[0]
	assert.Equal(t, api.SourceFilename{RelativeToVRT: 1, Path: "cells/m_0_0.vrt"}, first.Filename)
	assert.Empty(t, first.Resampling)
	// m_0_0 is the south-west cell: lower half of the raster.
	assert.Equal(t, api.Rect{XOff: 0, YOff: 16, XSize: 16, YSize: 16}, first.DstRect)
	assert.Equal(t, api.Rect{XSize: 16, YSize: 16}, first.SrcRect)
}

func TestRun_RejectsAndContinues(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 2)
	rotated := geo.GeoTransform{5, 0.1, 0.01, 5, 0, -0.1}
	rasters.WriteRaster(t, fs, rasters.Raster{Path: "/data/rotated.png", GT: &rotated})
	inputs = append(inputs, "/data/rotated.png")

	b := newBuilder(fs, Options{Output: "/out/m.vrt", MaxPerCell: 10})
	out, err := b.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Ingest.Accepted)
	require.Len(t, out.Ingest.Rejected, 1)
	assert.ErrorIs(t, out.Ingest.Rejected[0], ingest.ErrGeoreferencing)

	b.Opts.StopOnError = true
	_, err = b.Run(context.Background(), inputs)
	assert.ErrorIs(t, err, ingest.ErrGeoreferencing)
}

func TestRun_TargetResolution(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 2)

	b := newBuilder(fs, Options{Output: "/out/m.vrt", MaxPerCell: 4, ResX: 0.25, ResY: 0.5, AddAlpha: true})
	out, err := b.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 8, out.Grid.Width)
	assert.Equal(t, 4, out.Grid.Height)

	d := readVRT(t, fs, "/out/m.vrt")
	require.Len(t, d.Bands, 4)
	assert.Equal(t, api.ColorAlpha, d.Bands[3].ColorInterp)
	assert.True(t, d.Bands[3].Sources[0].IsComplex())
}

// headerOpener serves 10x10 RGB headers at 0.1 resolution, one unit wide,
// with their upper-left corners at the given points.
func headerOpener(corners map[string][2]float64) source.Opener {
	return source.Func(func(_ context.Context, path string) (*source.Info, error) {
		c, ok := corners[path]
		if !ok {
			return nil, fmt.Errorf("open %s: no such file", path)
		}
		return &source.Info{
			Path: path, Width: 10, Height: 10, Bands: 3, DataType: source.Byte,
			GeoTransform: geo.NorthUp(c[0], c[1], 0.1, 0.1),
		}, nil
	})
}

func TestRun_SkipsFlippedSource(t *testing.T) {
	fs := memfs.New()
	opener := source.Func(func(ctx context.Context, path string) (*source.Info, error) {
		if path == "/d/flip.png" {
			return &source.Info{
				Path: path, Width: 10, Height: 10, Bands: 3, DataType: source.Byte,
				GeoTransform: geo.GeoTransform{5, -0.1, 0, 1, 0, -0.1},
			}, nil
		}
		return headerOpener(map[string][2]float64{
			"/d/a.png": {0, 1}, "/d/b.png": {1, 1}, "/d/c.png": {2, 1},
		}).Open(ctx, path)
	})
	b := New(opener, mosaic.NewFSWriter(fs), nil, Options{Output: "/out/m.vrt", MaxPerCell: 10}, zerolog.Nop())

	out, err := b.Run(context.Background(), []string{"/d/a.png", "/d/flip.png", "/d/b.png", "/d/c.png"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Ingest.Accepted)
	require.Len(t, out.Ingest.Rejected, 1)
	assert.ErrorIs(t, out.Ingest.Rejected[0], ingest.ErrGeoreferencing)
	assert.Len(t, readVRT(t, fs, "/out/m.vrt").Bands[0].Sources, 3)
}

func TestRun_GridCoversExtent(t *testing.T) {
	fs := memfs.New()
	opener := headerOpener(map[string][2]float64{
		"/d/a.png": {0, 1}, "/d/b.png": {1, 1}, "/d/c.png": {2, 1}, "/d/d.png": {3, 1},
	})
	b := New(opener, mosaic.NewFSWriter(fs), nil, Options{
		Output: "/out/m.vrt", MaxPerCell: 2, ResX: 0.3, ResY: 0.3,
	}, zerolog.Nop())

	out, err := b.Run(context.Background(), []string{"/d/a.png", "/d/b.png", "/d/c.png", "/d/d.png"})
	require.NoError(t, err)
	require.False(t, out.Plan.Degenerate())
	ext := out.Ingest.Extent
	require.Equal(t, geo.Extent{MinX: 0, MinY: 0, MaxX: 4, MaxY: 1}, ext)

	top := readVRT(t, fs, "/out/m.vrt")
	gt := geo.GeoTransform(top.GeoTransform)
	assert.True(t, gt.Bounds(top.RasterXSize, top.RasterYSize).Contains(ext),
		"top-level %s must cover %s", gt.Bounds(top.RasterXSize, top.RasterYSize), ext)

	union := geo.EmptyExtent()
	for _, s := range top.Bands[0].Sources {
		union = union.Union(geo.Extent{
			MinX: gt[0] + s.DstRect.XOff*gt[1],
			MaxX: gt[0] + (s.DstRect.XOff+s.DstRect.XSize)*gt[1],
			MaxY: gt[3] + s.DstRect.YOff*gt[5],
			MinY: gt[3] + (s.DstRect.YOff+s.DstRect.YSize)*gt[5],
		})
	}
	assert.True(t, union.Contains(ext), "cells %s must cover %s", union, ext)
}

type failingWriter struct {
	mosaic.Writer
	match string
}

func (w failingWriter) Write(ctx context.Context, path string, d *api.VRTDataset) error {
	if strings.Contains(path, w.match) {
		return fmt.Errorf("%w: disk full", mosaic.ErrWriteFailure)
	}
	return w.Writer.Write(ctx, path, d)
}

func TestRun_WriteFailureAborts(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 4)

	b := newBuilder(fs, Options{Output: "/out/m.vrt", MaxPerCell: 4, Jobs: 2})
	b.Writer = failingWriter{Writer: b.Writer, match: "m_1_0"}

	_, err := b.Run(context.Background(), inputs)
	require.ErrorIs(t, err, mosaic.ErrWriteFailure)
	_, statErr := fs.Stat("/out/m.vrt")
	assert.Error(t, statErr, "top-level mosaic must not be written")
}

func TestRun_EmptyCatalog(t *testing.T) {
	fs := memfs.New()
	b := newBuilder(fs, Options{Output: "/out/m.vrt", MaxPerCell: 4})
	_, err := b.Run(context.Background(), []string{"/data/missing.png"})
	assert.ErrorIs(t, err, ingest.ErrEmptyCatalog)
}

func TestPlan_DryRun(t *testing.T) {
	fs := memfs.New()
	inputs := tileGrid(t, fs, 4)

	b := newBuilder(fs, Options{Output: "/out/m.vrt", MaxPerCell: 4})
	out, err := b.Plan(context.Background(), inputs)
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	require.Len(t, out.Cells, 4)
	assert.Equal(t, "/out/m_0_0.vrt", out.Cells[0].Path)
	assert.Equal(t, mosaic.Window{Col: 0, Row: 16, Cols: 16, Rows: 16}, out.Cells[0].Window)

	_, err = fs.Stat("/out")
	assert.Error(t, err, "dry run writes nothing")
}
