// Package geometry turns resolved process stacks into 2-D cross-section
// models and writes them in the formats the external tools consume: a
// FasterCap list-file problem and a magic Tcl extraction script.
//
// A model is built for a fixed wire pattern (single wire, coupled pair,
// wire beside a shield strip) and is fully deterministic: the same stack
// and pattern always produce byte-identical output files.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hmartens/fieldcap/pkg/stack"
)

// HalfWidth is the lateral half-extent of every cross-section, in microns.
// Wide enough that the field at the boundary is negligible for any
// realistic wire geometry.
const HalfWidth = 40.0

var (
	// ErrNotDrawn is returned when a wire names a layer that has no
	// conductor record in the resolved stack.
	ErrNotDrawn = errors.New("layer has no conductor record in the stack")

	// ErrBadWidth is returned for non-positive wire widths.
	ErrBadWidth = errors.New("wire width must be positive")
)

// Point is a vertex in the cross-section plane: x lateral, y height, both
// in microns.
type Point struct {
	X, Y float64
}

// Wire is one drawn conductor strip, spanning Left..Right on its layer.
type Wire struct {
	Layer string
	Net   string // capacitance-matrix group, "g1", "g2", ...
	Left  float64
	Right float64
}

// Conductor is a meshed conductor element of the model. Wires are closed
// rectangles; the ground plane is a single horizontal face.
type Conductor struct {
	Net    string
	Layer  string
	Left   float64
	Right  float64
	Bottom float64
	Top    float64
	Plane  bool    // only the top face is meshed
	EpsOut float64 // permittivity of the surrounding medium
}

// Boundary is one dielectric-dielectric interface: a left-to-right
// polyline with the permittivities on either side.
type Boundary struct {
	Name     string
	EpsBelow float64
	EpsAbove float64
	Line     []Point
}

// Model is a complete 2-D cross-section problem.
type Model struct {
	Name       string
	Conductors []Conductor
	Boundaries []Boundary
}

// OneWire builds the baseline pattern: a single wire of the given width,
// centered laterally, over the stack's reference conductor.
func OneWire(st stack.Stack, layer string, width float64) (*Model, error) {
	if width <= 0 {
		return nil, ErrBadWidth
	}
	name := fmt.Sprintf("w1 %s w=%.4g", layer, width)
	return Profile(name, st, []Wire{
		{Layer: layer, Net: "g1", Left: -width / 2, Right: width / 2},
	})
}

// TwoWire builds a coupled pair: two wires of equal width on the same
// layer, separated edge-to-edge by the given amount, symmetric about the
// center.
func TwoWire(st stack.Stack, layer string, width, separation float64) (*Model, error) {
	if width <= 0 {
		return nil, ErrBadWidth
	}
	name := fmt.Sprintf("w2 %s w=%.4g s=%.4g", layer, width, separation)
	return Profile(name, st, []Wire{
		{Layer: layer, Net: "g1", Left: -separation/2 - width, Right: -separation / 2},
		{Layer: layer, Net: "g2", Left: separation / 2, Right: separation/2 + width},
	})
}

// ShieldedWire builds the fringe-shielding pattern: one wire of the given
// width centered laterally, and a wide strip on a different metal whose
// right edge sits at the given separation from the wire's left edge.
// Negative separations pull the shield edge away from under the wire;
// positive separations slide it underneath.
func ShieldedWire(st stack.Stack, wire, shield string, width, separation float64) (*Model, error) {
	if width <= 0 {
		return nil, ErrBadWidth
	}
	name := fmt.Sprintf("w1sh %s/%s w=%.4g ss=%.4g", wire, shield, width, separation)
	return Profile(name, st, []Wire{
		{Layer: wire, Net: "g1", Left: -width / 2, Right: width / 2},
		{Layer: shield, Net: "g2", Left: -HalfWidth, Right: -width/2 + separation},
	})
}

// Profile builds a cross-section model from a resolved stack and an
// explicit wire pattern. Every wire must name a layer that the stack
// resolved as a drawn conductor. Dielectric boundaries follow the
// resolved heights: raised to the with-metal height over each wire plus
// its lateral offset, dropped to the field height elsewhere.
func Profile(name string, st stack.Stack, wires []Wire) (*Model, error) {
	drawn := make(map[string]bool)
	for _, rec := range st {
		if rec.Kind == stack.KindConductor {
			drawn[rec.Name] = true
		}
	}
	for _, w := range wires {
		if !drawn[w.Layer] {
			return nil, fmt.Errorf("%w: %q", ErrNotDrawn, w.Layer)
		}
	}

	m := &Model{Name: name}

	// Walk bottom-up: ground plane first, boundaries in height order.
	for i := len(st) - 1; i >= 0; i-- {
		rec := st[i]
		switch rec.Kind {
		case stack.KindGroundPlane:
			m.Conductors = append(m.Conductors, Conductor{
				Net:    "sub",
				Layer:  rec.Name,
				Left:   -HalfWidth,
				Right:  HalfWidth,
				Bottom: rec.Top,
				Top:    rec.Top,
				Plane:  true,
				EpsOut: epsAbove(st, i),
			})
		case stack.KindConductor:
			for _, w := range wires {
				if w.Layer != rec.Name {
					continue
				}
				m.Conductors = append(m.Conductors, Conductor{
					Net:    w.Net,
					Layer:  rec.Name,
					Left:   w.Left,
					Right:  w.Right,
					Bottom: rec.Bottom,
					Top:    rec.Top,
					EpsOut: wrapEpsilon(st, i),
				})
			}
		case stack.KindDielectric:
			if math.IsInf(rec.Top, 1) {
				continue // the air sentinel has no upper boundary
			}
			if b, ok := boundaryOf(st, i, wires); ok {
				m.Boundaries = append(m.Boundaries, b)
			}
		}
	}
	return m, nil
}

// boundaryOf builds the top surface of dielectric record i, or reports
// false when the surface is degenerate (a zero-span record with no raised
// section anywhere).
func boundaryOf(st stack.Stack, i int, wires []Wire) (Boundary, bool) {
	rec := st[i]

	type span struct{ a, b float64 }
	var raised []span
	if rec.Metal != "" && rec.TopMetal > rec.Top {
		for _, w := range wires {
			if w.Layer != rec.Metal {
				continue
			}
			raised = append(raised, span{
				a: math.Max(w.Left-rec.Offset, -HalfWidth),
				b: math.Min(w.Right+rec.Offset, HalfWidth),
			})
		}
	}
	slices.SortFunc(raised, func(x, y span) int {
		switch {
		case x.a < y.a:
			return -1
		case x.a > y.a:
			return 1
		}
		return 0
	})
	// Merge overlapping raised zones of closely spaced wires.
	merged := raised[:0]
	for _, s := range raised {
		if n := len(merged); n > 0 && s.a <= merged[n-1].b {
			if s.b > merged[n-1].b {
				merged[n-1].b = s.b
			}
			continue
		}
		merged = append(merged, s)
	}

	flat := rec.Top > rec.Bottom
	if !flat && len(merged) == 0 {
		return Boundary{}, false
	}

	b := Boundary{Name: rec.Name, EpsBelow: rec.Epsilon, EpsAbove: epsAbove(st, i)}
	if len(merged) == 0 {
		b.Line = []Point{{-HalfWidth, rec.Top}, {HalfWidth, rec.Top}}
		return b, true
	}

	if flat {
		b.Line = append(b.Line, Point{-HalfWidth, rec.Top})
	}
	for _, s := range merged {
		b.Line = append(b.Line,
			Point{s.a, rec.Top},
			Point{s.a, rec.TopMetal},
			Point{s.b, rec.TopMetal},
			Point{s.b, rec.Top},
		)
	}
	if flat {
		b.Line = append(b.Line, Point{HalfWidth, rec.Top})
	}
	return b, true
}

// epsAbove finds the permittivity of the dielectric directly above record
// i in the stack (records are ordered top-to-bottom, so above means a
// smaller index).
func epsAbove(st stack.Stack, i int) float64 {
	for j := i - 1; j >= 0; j-- {
		if st[j].Kind == stack.KindDielectric {
			return st[j].Epsilon
		}
	}
	return 1.0
}

// wrapEpsilon picks the permittivity surrounding a conductor record: the
// conformal or sidewall dielectric wrapping it when one exists, otherwise
// the dielectric directly above it.
func wrapEpsilon(st stack.Stack, i int) float64 {
	name := st[i].Name
	for _, rec := range st {
		if rec.Kind == stack.KindDielectric && rec.Metal == name && rec.Offset > 0 {
			return rec.Epsilon
		}
	}
	return epsAbove(st, i)
}
