// Package pipeline runs batch capacitance characterization.
//
// This package implements the complete enumerate → resolve → solve flow
// that the CLI drives. Each job in a run is one cross-section geometry:
// a wire pattern on one metal over one reference conductor at one width
// (and, for coupled patterns, one separation). Jobs are independent, so
// they run on a bounded worker pool, with solver results cached by
// content so a repeated run only pays for geometries it has not seen.
//
// # Usage
//
// Create a Runner and execute a run:
//
//	runner := pipeline.NewRunner(cache, nil, nil, logger)
//	opts := pipeline.Options{
//	    Mode:   pipeline.ModeTwoWire,
//	    Metals: []string{"m1"},
//	}
//	result, err := runner.Execute(ctx, doc, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rec := range result.Records {
//	    fmt.Println(rec)
//	}
package pipeline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and Library Callers
// =============================================================================

const (
	// DefaultTolerance is the starting FasterCap convergence tolerance.
	// Runs that time out escalate from here; see pkg/solver.
	DefaultTolerance = 0.01

	// DefaultWorkers is the number of concurrent solver processes.
	DefaultWorkers = 4

	// widthSpan and widthStep define the default width sweep in units of
	// the metal's minimum width: minimum and ten times minimum.
	widthSpan = 10.5
	widthStep = 9.0

	// sepSpan is the extent of the default separation sweep in units of
	// the metal's minimum spacing.
	sepSpan = 10.5

	// shieldReach is how far past alignment the shield edge sweeps, in
	// units of minimum spacing, on either side.
	shieldReach = 10.0
)

// Mode constants for the wire patterns.
const (
	ModeOneWire  = "w1"   // single wire over a reference plane
	ModeTwoWire  = "w2"   // coupled pair at a swept separation
	ModeShielded = "w1sh" // wire over a swept same-stack shield strip
)

// ValidModes is the set of supported wire patterns.
var ValidModes = map[string]bool{
	ModeOneWire:  true,
	ModeTwoWire:  true,
	ModeShielded: true,
}

// ValidateMode checks that a mode is valid.
func ValidateMode(mode string) error {
	if !ValidModes[mode] {
		return fmt.Errorf("invalid mode: %q (must be one of: w1, w2, w1sh)", mode)
	}
	return nil
}

// =============================================================================
// Options - Run Configuration
// =============================================================================

// Options contains all configuration for a characterization run.
// This struct supports JSON serialization for run manifests.
type Options struct {
	// Mode selects the wire pattern.
	Mode string `json:"mode"`

	// Metals restricts the run to these metal layers. Empty means every
	// metal the description declares.
	Metals []string `json:"metals,omitempty"`

	// Conductors restricts the reference conductors. Empty means every
	// diffusion plane and every metal declared below the swept metal.
	Conductors []string `json:"conductors,omitempty"`

	// Widths overrides the default per-metal width sweep.
	Widths []float64 `json:"widths,omitempty"`

	// Separations overrides the default per-metal separation sweep
	// (w2 and w1sh only).
	Separations []float64 `json:"separations,omitempty"`

	// Tolerance is the starting solver tolerance.
	Tolerance float64 `json:"tolerance,omitempty"`

	// Workers bounds solver concurrency.
	Workers int `json:"workers,omitempty"`

	// Refresh skips cache reads, forcing every job to solve.
	Refresh bool `json:"refresh,omitempty"`

	// WorkDir keeps the generated geometry files in this directory. When
	// empty a temporary directory is used and removed after the run.
	WorkDir string `json:"work_dir,omitempty"`

	// Runtime options (not serialized)
	Logger *log.Logger `json:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool `json:"-"`
}

// ValidateAndSetDefaults checks required fields and applies defaults.
// This method is idempotent - calling it multiple times has the same
// effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := ValidateMode(o.Mode); err != nil {
		return err
	}
	for _, w := range o.Widths {
		if w <= 0 {
			return fmt.Errorf("invalid width: %g", w)
		}
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.Tolerance < 0 {
		return fmt.Errorf("invalid tolerance: %g", o.Tolerance)
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// NeedsSeparation reports whether the mode sweeps a second dimension.
func (o *Options) NeedsSeparation() bool {
	return o.Mode == ModeTwoWire || o.Mode == ModeShielded
}

// widthSweep returns the default widths for a metal with the given
// minimum width: the minimum and ten times the minimum. Two points are
// enough because plate and fringe components separate linearly in width.
func widthSweep(minWidth float64) []float64 {
	var widths []float64
	for w := minWidth; w < widthSpan*minWidth; w += widthStep * minWidth {
		widths = append(widths, w)
	}
	return widths
}

// sepSweep returns the default separations for a metal with the given
// minimum spacing. Coupled pairs sweep outward from the minimum spacing;
// the shield pattern also sweeps the shield edge back past alignment so
// the fit sees both shielded and unshielded extremes.
func sepSweep(mode string, minSpacing float64) []float64 {
	start := minSpacing
	if mode == ModeShielded {
		start = -shieldReach * minSpacing
	}
	var seps []float64
	for s := start; s < sepSpan*minSpacing; s += minSpacing {
		seps = append(seps, s)
	}
	return seps
}
