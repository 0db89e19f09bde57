// Package partition splits the global extent into a grid of cells and
// assigns catalog records to them.
package partition

import (
	"errors"
	"fmt"
	"math"

	"github.com/agentic-research/tessera/internal/geo"
)

// minSpan stands in for a zero-width or zero-height extent.
const minSpan = 1e-9

var ErrInvalidPlan = errors.New("invalid partition parameters")

// Plan is a regular grid over the global extent. Cell (i, j) starts at
// Extent.MinX + i*CellWidth, Extent.MinY + j*CellHeight.
type Plan struct {
	CellsX     int        `json:"cells_x"`
	CellsY     int        `json:"cells_y"`
	CellWidth  float64    `json:"cell_width"`
	CellHeight float64    `json:"cell_height"`
	Extent     geo.Extent `json:"extent"`
	Target     int        `json:"target"` // ceil(sources / maxPerCell)
}

// NewPlan sizes the grid for n sources with at most maxPerCell per cell.
// The per-cell bound is geometric only: clustered sources can still
// exceed it.
func NewPlan(n int, extent geo.Extent, maxPerCell int) (Plan, error) {
	if maxPerCell <= 0 {
		return Plan{}, fmt.Errorf("%w: max per cell %d", ErrInvalidPlan, maxPerCell)
	}
	if n <= 0 || extent.IsEmpty() {
		return Plan{}, fmt.Errorf("%w: %d sources over %s", ErrInvalidPlan, n, extent)
	}

	target := (n + maxPerCell - 1) / maxPerCell
	width, height := extent.Width(), extent.Height()
	if target <= 1 {
		return Plan{
			CellsX: 1, CellsY: 1,
			CellWidth: width, CellHeight: height,
			Extent: extent, Target: target,
		}, nil
	}

	baseline := math.Ceil(math.Sqrt(float64(target)))
	aspect := math.Max(width, minSpan) / math.Max(height, minSpan)
	nx := int(math.Ceil(baseline / math.Sqrt(aspect)))
	ny := int(math.Ceil(baseline * math.Sqrt(aspect)))

	return Plan{
		CellsX:     nx,
		CellsY:     ny,
		CellWidth:  width / float64(nx),
		CellHeight: height / float64(ny),
		Extent:     extent,
		Target:     target,
	}, nil
}

// Degenerate reports whether the plan is a single cell spanning the extent.
func (p Plan) Degenerate() bool {
	return p.CellsX == 1 && p.CellsY == 1
}

// Cells returns the number of grid positions.
func (p Plan) Cells() int {
	return p.CellsX * p.CellsY
}

// CellBounds returns the box of cell (i, j). The last column and row end
// exactly on the extent edge so the cells tile it without gaps.
func (p Plan) CellBounds(i, j int) geo.Extent {
	b := geo.Extent{
		MinX: p.Extent.MinX + float64(i)*p.CellWidth,
		MinY: p.Extent.MinY + float64(j)*p.CellHeight,
		MaxX: p.Extent.MinX + float64(i+1)*p.CellWidth,
		MaxY: p.Extent.MinY + float64(j+1)*p.CellHeight,
	}
	if i == p.CellsX-1 {
		b.MaxX = p.Extent.MaxX
	}
	if j == p.CellsY-1 {
		b.MaxY = p.Extent.MaxY
	}
	return b
}

func (p Plan) String() string {
	return fmt.Sprintf("%dx%d cells of %gx%g (target %d)", p.CellsX, p.CellsY, p.CellWidth, p.CellHeight, p.Target)
}
