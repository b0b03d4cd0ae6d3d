// Package fit derives compact capacitance models from characterization
// data: analytic parallel-plate values straight from a resolved stack,
// nonlinear curve fits for the sidewall and fringe behaviors, and a plain
// text coefficients file that round-trips the full model set.
package fit

import (
	"errors"

	"github.com/hmartens/fieldcap/pkg/stack"
)

// Epsilon0 is the vacuum permittivity in aF/um, the unit the coefficient
// tables are expressed in (aF/um^2 for area capacitance).
const Epsilon0 = 8.854

var (
	// ErrNoConductor is returned when a stack has no drawn conductor to
	// compute a plate capacitance for.
	ErrNoConductor = errors.New("stack has no conductor record")

	// ErrNoDielectric is returned when no dielectric with finite
	// thickness separates the conductor from the reference plane.
	ErrNoDielectric = errors.New("no dielectric between conductor and reference")
)

// PlateCap computes the parallel-plate capacitance per unit area between
// the topmost drawn conductor of the stack and its reference plane, in
// aF/um^2. Each dielectric in between contributes a partial capacitance
// eps0*k/thickness; the partials combine in series. Zero-thickness
// records contribute nothing.
func PlateCap(st stack.Stack) (float64, error) {
	top, ok := st.TopConductor()
	if !ok {
		return 0, ErrNoConductor
	}

	var invTotal float64
	seen := false
	for i := top + 1; i < len(st)-1; i++ {
		rec := st[i]
		if rec.Kind != stack.KindDielectric {
			continue
		}
		thickness := rec.Top - rec.Bottom
		if thickness <= 0 {
			continue
		}
		invTotal += thickness / (Epsilon0 * rec.Epsilon)
		seen = true
	}
	if !seen {
		return 0, ErrNoDielectric
	}
	return 1 / invTotal, nil
}
