package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/metrics"
	"github.com/agentic-research/tessera/internal/source"
)

// Target receives accepted sources.
type Target interface {
	Insert(r catalog.Record) (uint32, error)
	Len() int
	Extent() geo.Extent
}

// Options tunes validation.
type Options struct {
	// StopOnError turns every per-source rejection into a fatal error.
	StopOnError bool
	// OpenWorkers > 1 reads headers concurrently. Validation and insertion
	// still happen in input order.
	OpenWorkers int
}

// Result summarises one catalog build.
type Result struct {
	Accepted int
	Rejected []*SourceError
	SRS      string // reference of the first accepted source, "" when none
	Extent   geo.Extent
}

// Engine drives the Source Opener over every input and fills the catalog
// with the mutually compatible, axis-aligned, north-up sources.
type Engine struct {
	Opener source.Opener
	Store  Target
	Opts   Options
	Log    zerolog.Logger
}

func NewEngine(opener source.Opener, store Target, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		Opener: opener,
		Store:  store,
		Opts:   opts,
		Log:    log,
	}
}

type opened struct {
	info *source.Info
	err  error
}

// Ingest validates inputs in order and inserts the accepted ones.
func (e *Engine) Ingest(ctx context.Context, inputs []string) (*Result, error) {
	prefetched, err := e.prefetch(ctx, inputs)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var (
		haveRef bool
		ref     string
	)
	for i, path := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var o opened
		if prefetched != nil {
			o = prefetched[i]
		} else {
			o.info, o.err = e.Opener.Open(ctx, path)
		}
		if o.err != nil && errors.Is(o.err, context.Canceled) {
			return nil, o.err
		}

		if serr := e.check(path, o, haveRef, ref); serr != nil {
			if err := e.reject(res, serr); err != nil {
				return nil, err
			}
			continue
		}

		info := o.info
		if !haveRef {
			haveRef, ref = true, info.SRS
			res.SRS = ref
		}
		if _, err := e.Store.Insert(recordOf(path, info)); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		res.Accepted++
		metrics.SourcesAccepted.Inc()
	}

	if e.Store.Len() == 0 {
		return nil, fmt.Errorf("%w: %d inputs, %d rejected", ErrEmptyCatalog, len(inputs), len(res.Rejected))
	}
	res.Extent = e.Store.Extent()
	e.Log.Info().
		Int("accepted", res.Accepted).
		Int("rejected", len(res.Rejected)).
		Stringer("extent", res.Extent).
		Msg("catalog built")
	return res, nil
}

// check applies the placement and reference policy to one opened input.
func (e *Engine) check(path string, o opened, haveRef bool, ref string) *SourceError {
	if o.err != nil {
		return &SourceError{Path: path, Kind: ErrOpenFailure, Err: o.err}
	}
	gt := o.info.GeoTransform
	if !gt.IsAxisAligned() {
		return &SourceError{Path: path, Kind: ErrGeoreferencing,
			Err: fmt.Errorf("rotation terms %g, %g must be zero", gt[2], gt[4])}
	}
	if !gt.IsNorthUp() {
		return &SourceError{Path: path, Kind: ErrGeoreferencing,
			Err: fmt.Errorf("row pitch %g is not negative (south-up)", gt[5])}
	}
	if gt[1] <= 0 {
		return &SourceError{Path: path, Kind: ErrGeoreferencing,
			Err: fmt.Errorf("pixel width %g is not positive", gt[1])}
	}
	if haveRef && o.info.SRS != ref {
		return &SourceError{Path: path, Kind: ErrReferenceMismatch,
			Err: fmt.Errorf("have %s, want %s", describeSRS(o.info.SRS), describeSRS(ref))}
	}
	return nil
}

func (e *Engine) reject(res *Result, serr *SourceError) error {
	metrics.SourcesRejected.WithLabelValues(serr.Reason()).Inc()
	if e.Opts.StopOnError {
		e.Log.Error().Str("input", serr.Path).Str("reason", serr.Reason()).Err(serr.Err).Msg("source rejected")
		return serr
	}
	e.Log.Warn().Str("input", serr.Path).Str("reason", serr.Reason()).Err(serr.Err).Msg("source skipped")
	res.Rejected = append(res.Rejected, serr)
	return nil
}

// prefetch reads every header concurrently when OpenWorkers > 1. It
// returns nil for sequential runs, where headers are read lazily so that
// StopOnError halts before touching the remaining inputs.
func (e *Engine) prefetch(ctx context.Context, inputs []string) ([]opened, error) {
	if e.Opts.OpenWorkers <= 1 {
		return nil, nil
	}
	out := make([]opened, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Opts.OpenWorkers)
	for i, path := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := e.Opener.Open(gctx, path)
			out[i] = opened{info: info, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func recordOf(path string, info *source.Info) catalog.Record {
	return catalog.Record{
		Path:     path,
		Bounds:   info.Bounds(),
		SRS:      info.SRS,
		Width:    info.Width,
		Height:   info.Height,
		Bands:    info.Bands,
		DataType: info.DataType,
		HasAlpha: info.HasAlpha,
		ResX:     info.GeoTransform.ResX(),
		ResY:     info.GeoTransform.ResY(),
	}
}

func describeSRS(s string) string {
	if s == "" {
		return "no reference"
	}
	if len(s) > 48 {
		return fmt.Sprintf("%q...", s[:48])
	}
	return fmt.Sprintf("%q", s)
}

// Interface compliance
var _ Target = (*catalog.Catalog)(nil)
