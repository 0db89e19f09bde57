// Package mosaic turns catalog records into VRT mosaic descriptors: one per
// non-empty cell and one top-level descriptor that stitches the cells.
package mosaic

import (
	"math"

	"github.com/agentic-research/tessera/internal/geo"
)

// snap absorbs floating point noise when aligning extents to pixel edges.
const snap = 1e-6

// Grid is the pixel grid shared by the top-level mosaic and every cell
// mosaic, anchored at the upper-left corner of the global extent.
type Grid struct {
	MinX   float64
	MaxY   float64
	ResX   float64
	ResY   float64
	Width  int
	Height int
}

// NewGrid lays a grid of resX x resY pixels over extent. When the
// resolution does not divide the extent the last column and row overhang
// its east and south edges, so the grid always covers the whole extent.
func NewGrid(extent geo.Extent, resX, resY float64) Grid {
	return Grid{
		MinX:   extent.MinX,
		MaxY:   extent.MaxY,
		ResX:   resX,
		ResY:   resY,
		Width:  max(1, int(math.Ceil(extent.Width()/resX-snap))),
		Height: max(1, int(math.Ceil(extent.Height()/resY-snap))),
	}
}

// Window is a block of whole grid pixels.
type Window struct {
	Col  int `json:"col"`
	Row  int `json:"row"`
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Window returns the smallest block of grid pixels covering e, clipped to
// the grid. Every extent yields at least one pixel.
func (g Grid) Window(e geo.Extent) Window {
	c0 := int(math.Floor((e.MinX-g.MinX)/g.ResX + snap))
	c1 := int(math.Ceil((e.MaxX-g.MinX)/g.ResX - snap))
	r0 := int(math.Floor((g.MaxY-e.MaxY)/g.ResY + snap))
	r1 := int(math.Ceil((g.MaxY-e.MinY)/g.ResY - snap))

	c0, c1 = clampSpan(c0, c1, g.Width)
	r0, r1 = clampSpan(r0, r1, g.Height)
	return Window{Col: c0, Row: r0, Cols: c1 - c0, Rows: r1 - r0}
}

func clampSpan(lo, hi, n int) (int, int) {
	lo = min(max(lo, 0), n-1)
	hi = min(max(hi, lo+1), n)
	return lo, hi
}

// Full returns the window covering the whole grid.
func (g Grid) Full() Window {
	return Window{Cols: g.Width, Rows: g.Height}
}

// GeoTransform returns the placement of a window.
func (g Grid) GeoTransform(w Window) geo.GeoTransform {
	return geo.NorthUp(
		g.MinX+float64(w.Col)*g.ResX,
		g.MaxY-float64(w.Row)*g.ResY,
		g.ResX, g.ResY)
}

// Bounds returns the extent covered by a window.
func (g Grid) Bounds(w Window) geo.Extent {
	return g.GeoTransform(w).Bounds(w.Cols, w.Rows)
}
