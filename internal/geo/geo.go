// Package geo holds the planar primitives shared by the catalog, the
// partition planner and the mosaic builder: axis-aligned extents and
// affine geotransforms.
package geo

import (
	"fmt"
	"math"
)

// Extent is an axis-aligned bounding box in the shared coordinate space.
// The zero value is not empty; use EmptyExtent to start a union.
type Extent struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// EmptyExtent returns the identity element for Union.
func EmptyExtent() Extent {
	return Extent{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// IsEmpty reports whether e contains no points.
func (e Extent) IsEmpty() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY
}

// Width returns the east-west span of e.
func (e Extent) Width() float64 { return e.MaxX - e.MinX }

// Height returns the north-south span of e.
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// Union returns the smallest extent covering both e and o.
func (e Extent) Union(o Extent) Extent {
	if o.IsEmpty() {
		return e
	}
	if e.IsEmpty() {
		return o
	}
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Overlaps reports whether e and o share a region of positive area.
// Extents that only touch along an edge do not overlap.
func (e Extent) Overlaps(o Extent) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX < o.MaxX && o.MinX < e.MaxX &&
		e.MinY < o.MaxY && o.MinY < e.MaxY
}

// Contains reports whether o lies entirely inside e.
func (e Extent) Contains(o Extent) bool {
	return o.MinX >= e.MinX && o.MaxX <= e.MaxX &&
		o.MinY >= e.MinY && o.MaxY <= e.MaxY
}

func (e Extent) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// GeoTransform maps pixel/line coordinates to the shared coordinate space:
//
//	x = GT[0] + col*GT[1] + row*GT[2]
//	y = GT[3] + col*GT[4] + row*GT[5]
type GeoTransform [6]float64

// IsAxisAligned reports whether the rotation/shear terms are zero.
func (gt GeoTransform) IsAxisAligned() bool {
	return gt[2] == 0 && gt[4] == 0
}

// IsNorthUp reports whether rows advance southwards (negative row pitch).
func (gt GeoTransform) IsNorthUp() bool {
	return gt[5] < 0
}

// ResX returns the pixel width.
func (gt GeoTransform) ResX() float64 { return math.Abs(gt[1]) }

// ResY returns the pixel height as a positive number.
func (gt GeoTransform) ResY() float64 { return math.Abs(gt[5]) }

// Bounds returns the extent covered by a width x height raster. Only
// meaningful for axis-aligned, north-up transforms.
func (gt GeoTransform) Bounds(width, height int) Extent {
	return Extent{
		MinX: gt[0],
		MaxX: gt[0] + float64(width)*gt[1],
		MaxY: gt[3],
		MinY: gt[3] + float64(height)*gt[5],
	}
}

// NorthUp builds the geotransform of an axis-aligned raster whose upper
// left corner sits at (minX, maxY).
func NorthUp(minX, maxY, resX, resY float64) GeoTransform {
	return GeoTransform{minX, resX, 0, maxY, 0, -resY}
}
