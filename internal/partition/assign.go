package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/geo"
)

// ErrUnassigned means some catalog record fell outside every cell.
var ErrUnassigned = errors.New("sources not assigned to any cell")

// Index is the read side of the catalog the assigner needs.
type Index interface {
	Query(ctx context.Context, q geo.Extent) ([]catalog.Record, error)
	IDs() *roaring.Bitmap
}

// Cell is one non-empty grid position and the records overlapping it.
type Cell struct {
	I       int
	J       int
	Bounds  geo.Extent
	Sources []catalog.Record
	Members *roaring.Bitmap
}

// Name derives the deterministic file stem of the cell mosaic.
func (c *Cell) Name(base string) string {
	return fmt.Sprintf("%s_%d_%d", base, c.I, c.J)
}

// Assignment is the outcome of assigning every record to the grid.
type Assignment struct {
	Plan  Plan
	Cells []*Cell // non-empty cells in row-major order
	Empty int     // grid positions dropped for lack of sources
}

// Assign queries the index for every grid position, row by row, and drops
// the empty ones. It fails if any record ends up in no cell.
func Assign(ctx context.Context, plan Plan, idx Index) (*Assignment, error) {
	out := &Assignment{Plan: plan}
	covered := roaring.New()

	for j := 0; j < plan.CellsY; j++ {
		for i := 0; i < plan.CellsX; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			bounds := plan.CellBounds(i, j)
			recs, err := idx.Query(ctx, bounds)
			if err != nil {
				return nil, fmt.Errorf("assign cell %d,%d: %w", i, j, err)
			}
			if len(recs) == 0 {
				out.Empty++
				continue
			}
			members := roaring.New()
			for _, r := range recs {
				members.Add(r.ID)
			}
			covered.Or(members)
			out.Cells = append(out.Cells, &Cell{
				I: i, J: j,
				Bounds:  bounds,
				Sources: recs,
				Members: members,
			})
		}
	}

	missing := roaring.AndNot(idx.IDs(), covered)
	if !missing.IsEmpty() {
		return nil, fmt.Errorf("%w: %d records, first id %d", ErrUnassigned, missing.GetCardinality(), missing.Minimum())
	}
	return out, nil
}

// Placements returns the total number of (cell, source) pairs.
func (a *Assignment) Placements() int {
	n := 0
	for _, c := range a.Cells {
		n += len(c.Sources)
	}
	return n
}

// Shared returns how many records overlap more than one cell.
func (a *Assignment) Shared() int {
	seen := roaring.New()
	shared := roaring.New()
	for _, c := range a.Cells {
		shared.Or(roaring.And(seen, c.Members))
		seen.Or(c.Members)
	}
	return int(shared.GetCardinality())
}

// MaxPopulation returns the size of the most populated cell.
func (a *Assignment) MaxPopulation() int {
	m := 0
	for _, c := range a.Cells {
		m = max(m, len(c.Sources))
	}
	return m
}
