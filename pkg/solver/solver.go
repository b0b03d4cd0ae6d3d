// Package solver drives the external field-solver and layout tools that
// compute capacitances for generated cross-section problems.
//
// The FasterCap runner implements the tolerance-escalation policy the
// characterization flow depends on: a run that exceeds its time budget is
// retried with a doubled tolerance, a run above the warning threshold is
// flagged, and escalation past the hard ceiling aborts. The magic runner
// extracts the same capacitance from a drawn layout as a cross-check.
// Output parsing is separated into pure functions so the policy and the
// parsing can be tested without the binaries installed.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoMatrix is returned when solver output contains no capacitance
	// matrix rows.
	ErrNoMatrix = errors.New("no capacitance matrix in solver output")

	// ErrUnstable is returned when a problem keeps timing out even at the
	// tolerance ceiling.
	ErrUnstable = errors.New("solver failed to converge below the tolerance ceiling")

	// ErrSolverFailed is returned when the solver process exits with an
	// error.
	ErrSolverFailed = errors.New("solver exited with an error")

	// ErrNoCapacitance is returned when an extracted netlist carries no
	// capacitor between the probed nets.
	ErrNoCapacitance = errors.New("no capacitance between probed nets")
)

// Caps is the parsed capacitance matrix of one solve, covering the one-
// and two-conductor problems the characterization flow generates. Values
// are in the solver's native units (F/m for 2-D problems). Tolerance
// records the tolerance the solve actually ran at, after any escalation.
type Caps struct {
	G         [2][2]float64
	Rows      int
	Tolerance float64
}

// Self returns the self-capacitance of the first conductor group.
func (c Caps) Self() float64 { return c.G[0][0] }

// Solver computes the capacitance matrix of one problem file. The
// pipeline depends only on this interface, so tests substitute fakes.
type Solver interface {
	Solve(ctx context.Context, listFile string, tolerance float64) (Caps, error)
}

// ParseCaps extracts the capacitance matrix rows from solver output. Rows
// are recognized by their conductor group labels ("g1_", "g2_"); the
// label token is followed by one matrix entry per group.
func ParseCaps(stdout string) (Caps, error) {
	var c Caps
	for _, line := range strings.Split(stdout, "\n") {
		var row int
		switch {
		case strings.Contains(line, "g1_"):
			row = 0
		case strings.Contains(line, "g2_"):
			row = 1
		default:
			continue
		}
		fields := strings.Fields(line)
		for i, f := range fields[1:] {
			if i > 1 {
				break
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Caps{}, fmt.Errorf("matrix row %q: %w", line, err)
			}
			c.G[row][i] = v
		}
		if row+1 > c.Rows {
			c.Rows = row + 1
		}
	}
	if c.Rows == 0 {
		return Caps{}, ErrNoMatrix
	}
	return c, nil
}
