// Package report renders the outcome of a run as a JSON document.
package report

import (
	"fmt"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/tessera/internal/builder"
	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/mosaic"
)

// Build turns an outcome into plain maps and slices, ready for encoding.
func Build(out *builder.Outcome) map[string]any {
	rejected := make([]any, 0, len(out.Ingest.Rejected))
	for _, r := range out.Ingest.Rejected {
		rejected = append(rejected, map[string]any{
			"path":   r.Path,
			"reason": r.Reason(),
			"error":  r.Err.Error(),
		})
	}

	cells := make([]any, 0, len(out.Cells))
	for _, c := range out.Cells {
		cell := map[string]any{
			"name":    c.Name,
			"path":    c.Path,
			"i":       c.I,
			"j":       c.J,
			"sources": c.Sources,
			"window":  window(c.Window),
		}
		if len(c.Overviews) > 0 {
			factors := make([]any, len(c.Overviews))
			for k, f := range c.Overviews {
				factors[k] = f
			}
			cell["overviews"] = factors
		}
		if c.Duration > 0 {
			cell["seconds"] = c.Duration.Seconds()
		}
		cells = append(cells, cell)
	}

	return map[string]any{
		"output":  out.Output,
		"dry_run": out.DryRun,
		"catalog": map[string]any{
			"accepted": out.Ingest.Accepted,
			"rejected": rejected,
			"srs":      out.Ingest.SRS,
			"extent":   extent(out.Ingest.Extent),
		},
		"plan": map[string]any{
			"cells_x":     out.Plan.CellsX,
			"cells_y":     out.Plan.CellsY,
			"cell_width":  out.Plan.CellWidth,
			"cell_height": out.Plan.CellHeight,
			"target":      out.Plan.Target,
			"degenerate":  out.Plan.Degenerate(),
		},
		"grid": map[string]any{
			"width":  out.Grid.Width,
			"height": out.Grid.Height,
			"res_x":  out.Grid.ResX,
			"res_y":  out.Grid.ResY,
		},
		"layout": map[string]any{
			"bands":     out.Layout.Bands(),
			"data_type": out.Layout.DataType,
			"alpha":     out.Layout.Alpha,
		},
		"cells":       cells,
		"empty_cells": out.EmptyCells,
		"shared":      out.Shared,
		"seconds":     out.Elapsed.Seconds(),
		"finished":    time.Now().UTC().Format(time.RFC3339),
	}
}

func extent(e geo.Extent) map[string]any {
	return map[string]any{"minx": e.MinX, "miny": e.MinY, "maxx": e.MaxX, "maxy": e.MaxY}
}

func window(w mosaic.Window) map[string]any {
	return map[string]any{"col": w.Col, "row": w.Row, "cols": w.Cols, "rows": w.Rows}
}

// Encode renders the report with sorted keys.
func Encode(doc map[string]any) string {
	return oj.JSON(doc, &oj.Options{Indent: 2, Sort: true})
}

// Write encodes the report for out to path.
func Write(fs billy.Filesystem, path string, out *builder.Outcome) error {
	if err := mosaic.WriteFile(fs, path, []byte(Encode(Build(out))+"\n")); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
