// Package builder runs a whole mosaic build: catalog, partition plan, cell
// mosaics with their pyramids, and the top-level mosaic.
package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/ingest"
	"github.com/agentic-research/tessera/internal/metrics"
	"github.com/agentic-research/tessera/internal/mosaic"
	"github.com/agentic-research/tessera/internal/overview"
	"github.com/agentic-research/tessera/internal/partition"
	"github.com/agentic-research/tessera/internal/progress"
	"github.com/agentic-research/tessera/internal/source"
)

// Options are the per-run settings.
type Options struct {
	Output          string
	IntermediateDir string // defaults to the directory of Output
	MaxPerCell      int

	// ResX and ResY override the catalog-derived resolution when both are set.
	ResX, ResY float64
	Resolution string // catalog strategy, see catalog.Resolution*

	AddAlpha    bool
	Resampling  string
	StopOnError bool

	Overviews           overview.Policy // nil for no pyramids
	OverviewCompression string

	Jobs        int
	OpenWorkers int
	CatalogPath string // "" keeps the catalog in memory
}

// Builder wires the collaborators of a run.
type Builder struct {
	Opener    source.Opener
	Writer    mosaic.Writer
	Overviews overview.Builder
	Progress  progress.Tracker
	Opts      Options
	Log       zerolog.Logger
}

func New(opener source.Opener, writer mosaic.Writer, ovr overview.Builder, opts Options, log zerolog.Logger) *Builder {
	return &Builder{
		Opener:    opener,
		Writer:    writer,
		Overviews: ovr,
		Progress:  progress.Nop{},
		Opts:      opts,
		Log:       log,
	}
}

// CellResult describes one written cell mosaic.
type CellResult struct {
	Name      string
	Path      string
	I, J      int
	Sources   int
	Window    mosaic.Window
	Overviews []int
	Duration  time.Duration
}

// Outcome is everything a run decided and produced.
type Outcome struct {
	Ingest     *ingest.Result
	Plan       partition.Plan
	Grid       mosaic.Grid
	Layout     mosaic.Layout
	Cells      []CellResult // row-major; empty for a degenerate plan
	EmptyCells int
	Shared     int // sources placed in more than one cell
	Output     string
	DryRun     bool
	Elapsed    time.Duration
}

// Run builds and writes every mosaic for inputs. Any write failure aborts
// the whole run.
func (b *Builder) Run(ctx context.Context, inputs []string) (*Outcome, error) {
	return b.run(ctx, inputs, false)
}

// Plan builds the catalog and the partition without writing anything.
func (b *Builder) Plan(ctx context.Context, inputs []string) (*Outcome, error) {
	return b.run(ctx, inputs, true)
}

func (b *Builder) run(ctx context.Context, inputs []string, dryRun bool) (*Outcome, error) {
	start := time.Now()
	defer func() { metrics.LastRunEnd.SetToCurrentTime() }()

	cat, err := catalog.Open(b.Opts.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()

	eng := ingest.NewEngine(b.Opener, cat, ingest.Options{
		StopOnError: b.Opts.StopOnError,
		OpenWorkers: b.Opts.OpenWorkers,
	}, b.Log)
	res, err := eng.Ingest(ctx, inputs)
	if err != nil {
		return nil, err
	}

	plan, err := partition.NewPlan(cat.Len(), cat.Extent(), b.Opts.MaxPerCell)
	if err != nil {
		return nil, err
	}
	grid, layout, err := b.gridAndLayout(ctx, cat)
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		Ingest: res,
		Plan:   plan,
		Grid:   grid,
		Layout: layout,
		Output: b.Opts.Output,
		DryRun: dryRun,
	}
	b.Log.Info().
		Stringer("plan", plan).
		Int("width", grid.Width).
		Int("height", grid.Height).
		Msg("partition planned")

	mopts := mosaic.Options{Layout: layout, Resampling: b.Opts.Resampling, SRS: res.SRS}

	if plan.Degenerate() {
		if !dryRun {
			recs, err := cat.All(ctx)
			if err != nil {
				return nil, err
			}
			d := mosaic.BuildCell(b.Opts.Output, recs, grid, grid.Full(), mopts)
			if err := b.Writer.Write(ctx, b.Opts.Output, d); err != nil {
				return nil, fmt.Errorf("write %s: %w", b.Opts.Output, err)
			}
		}
		out.Elapsed = time.Since(start)
		return out, nil
	}

	asg, err := partition.Assign(ctx, plan, cat)
	if err != nil {
		return nil, err
	}
	out.EmptyCells = asg.Empty
	out.Shared = asg.Shared()
	metrics.CellsEmpty.Add(float64(asg.Empty))

	out.Cells = make([]CellResult, len(asg.Cells))
	base := strings.TrimSuffix(filepath.Base(b.Opts.Output), filepath.Ext(b.Opts.Output))
	for k, c := range asg.Cells {
		name := c.Name(base)
		out.Cells[k] = CellResult{
			Name:    name,
			Path:    filepath.Join(b.intermediateDir(), name+".vrt"),
			I:       c.I,
			J:       c.J,
			Sources: len(c.Sources),
			Window:  grid.Window(c.Bounds),
		}
	}
	if dryRun {
		out.Elapsed = time.Since(start)
		return out, nil
	}

	built, err := b.buildCells(ctx, asg.Cells, out.Cells, grid, mopts)
	if err != nil {
		return nil, err
	}

	top := mosaic.BuildTopLevel(b.Opts.Output, built, grid, mopts)
	if err := b.Writer.Write(ctx, b.Opts.Output, top); err != nil {
		return nil, fmt.Errorf("write %s: %w", b.Opts.Output, err)
	}
	out.Elapsed = time.Since(start)
	b.Log.Info().
		Int("cells", len(built)).
		Int("empty", asg.Empty).
		Dur("elapsed", out.Elapsed).
		Str("output", b.Opts.Output).
		Msg("mosaic written")
	return out, nil
}

// gridAndLayout fixes the pixel grid and band layout shared by every mosaic.
func (b *Builder) gridAndLayout(ctx context.Context, cat *catalog.Catalog) (mosaic.Grid, mosaic.Layout, error) {
	resX, resY := b.Opts.ResX, b.Opts.ResY
	if resX <= 0 || resY <= 0 {
		strategy := b.Opts.Resolution
		if strategy == "" {
			strategy = catalog.ResolutionAverage
		}
		var err error
		if resX, resY, err = cat.Resolution(ctx, strategy); err != nil {
			return mosaic.Grid{}, mosaic.Layout{}, fmt.Errorf("resolution: %w", err)
		}
	}
	bands, wide, _, err := cat.Layout(ctx)
	if err != nil {
		return mosaic.Grid{}, mosaic.Layout{}, fmt.Errorf("band layout: %w", err)
	}
	return mosaic.NewGrid(cat.Extent(), resX, resY), mosaic.NewLayout(bands, wide, b.Opts.AddAlpha), nil
}

func (b *Builder) intermediateDir() string {
	if b.Opts.IntermediateDir != "" {
		return b.Opts.IntermediateDir
	}
	return filepath.Dir(b.Opts.Output)
}

// buildCells writes every cell mosaic on a bounded pool. The first failure
// cancels the remaining cells.
func (b *Builder) buildCells(ctx context.Context, cells []*partition.Cell, results []CellResult, grid mosaic.Grid, mopts mosaic.Options) ([]*mosaic.Cell, error) {
	built := make([]*mosaic.Cell, len(cells))
	b.Progress.Start(len(cells), "building cells")
	defer b.Progress.Finish()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.Opts.Jobs))
	for k, c := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cell, err := b.buildCell(gctx, c, &results[k], grid, mopts)
			if err != nil {
				return err
			}
			built[k] = cell
			b.Progress.Advance()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return built, nil
}

func (b *Builder) buildCell(ctx context.Context, c *partition.Cell, res *CellResult, grid mosaic.Grid, mopts mosaic.Options) (*mosaic.Cell, error) {
	start := time.Now()
	log := b.Log.With().Str("cell", res.Name).Logger()

	d := mosaic.BuildCell(res.Path, c.Sources, grid, res.Window, mopts)

	if b.Opts.Overviews != nil && b.Overviews != nil {
		spec := b.Opts.Overviews.Resolve(res.Window.Cols, res.Window.Rows)
		if !spec.Empty() {
			levels, err := b.Overviews.Build(ctx, overview.Request{
				Path:        res.Path,
				Grid:        grid,
				Window:      res.Window,
				Sources:     c.Sources,
				Layout:      mopts.Layout,
				Factors:     spec.Factors,
				Resampling:  mopts.Resampling,
				Compression: b.Opts.OverviewCompression,
			})
			if err != nil {
				return nil, fmt.Errorf("overviews for %s: %w", res.Name, err)
			}
			for _, l := range levels {
				mosaic.AttachOverview(d, res.Path, l.Path, l.BandMap)
				res.Overviews = append(res.Overviews, l.Factor)
			}
			metrics.OverviewLevels.Add(float64(len(levels)))
		}
	}

	if err := b.Writer.Write(ctx, res.Path, d); err != nil {
		return nil, fmt.Errorf("write cell %s: %w", res.Name, err)
	}

	res.Duration = time.Since(start)
	metrics.CellsBuilt.Inc()
	metrics.CellBuildDuration.Observe(res.Duration.Seconds())
	log.Debug().
		Int("sources", res.Sources).
		Ints("overviews", res.Overviews).
		Dur("took", res.Duration).
		Msg("cell written")
	return &mosaic.Cell{Path: res.Path, Window: res.Window, Descriptor: d}, nil
}
