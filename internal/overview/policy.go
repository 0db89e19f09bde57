// Package overview derives pyramid levels for cell mosaics and renders
// them to files the cell descriptors can reference.
package overview

import (
	"slices"
)

// stopDim is the size at which automatic pyramids stop halving.
const stopDim = 256

// Spec is a resolved list of decimation factors, ascending. An empty Spec
// means no pyramid.
type Spec struct {
	Factors []int
}

func (s Spec) Empty() bool { return len(s.Factors) == 0 }

// Policy chooses the factors for a mosaic of a given size.
type Policy interface {
	Resolve(width, height int) Spec
	policy()
}

// Automatic halves the larger dimension until it fits in 256 pixels.
type Automatic struct{}

// Explicit uses a fixed list of factors regardless of size.
type Explicit struct {
	Factors []int
}

func (Automatic) policy() {}
func (Explicit) policy()  {}

func (Automatic) Resolve(width, height int) Spec {
	var factors []int
	f, dim := 2, max(width, height)
	for dim > stopDim {
		factors = append(factors, f)
		f *= 2
		dim /= 2
	}
	return Spec{Factors: factors}
}

// Resolve drops factors below 2 and duplicates.
func (e Explicit) Resolve(int, int) Spec {
	var factors []int
	for _, f := range e.Factors {
		if f >= 2 {
			factors = append(factors, f)
		}
	}
	slices.Sort(factors)
	return Spec{Factors: slices.Compact(factors)}
}

// NewPolicy returns the policy for the given switches, or nil when no
// pyramid was requested. Explicit factors win over the automatic mode.
func NewPolicy(auto bool, factors []int) Policy {
	switch {
	case len(factors) > 0:
		return Explicit{Factors: slices.Clone(factors)}
	case auto:
		return Automatic{}
	default:
		return nil
	}
}
