package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hmartens/fieldcap/pkg/observability"
)

// Escalation policy constants, tuned against real problem sets: doubling
// past the ceiling has never produced a usable matrix, and anything above
// the warning threshold is suspect enough to flag in the results.
const (
	defaultTimeout = 30 * time.Second
	toleranceCeil  = 0.1
	toleranceWarn  = 0.01
)

// FasterCap runs the FasterCap field solver in batch mode on list files.
type FasterCap struct {
	// Exec is the solver binary. NewFasterCap seeds it from the
	// FASTERCAP_EXEC environment variable.
	Exec string

	// Timeout bounds each attempt; a timed-out attempt is retried at a
	// doubled tolerance.
	Timeout time.Duration

	// Logger receives per-attempt diagnostics. Optional.
	Logger *log.Logger
}

// NewFasterCap returns a runner using the FASTERCAP_EXEC binary, or
// "FasterCap" from PATH when the variable is unset.
func NewFasterCap(logger *log.Logger) *FasterCap {
	bin := os.Getenv("FASTERCAP_EXEC")
	if bin == "" {
		bin = "FasterCap"
	}
	return &FasterCap{Exec: bin, Timeout: defaultTimeout, Logger: logger}
}

// Solve runs the solver on listFile starting at the given tolerance,
// escalating on timeouts per the package policy, and parses the resulting
// capacitance matrix. The context cancels the solve outright; escalation
// applies only to per-attempt timeouts.
func (f *FasterCap) Solve(ctx context.Context, listFile string, tolerance float64) (Caps, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	loctol := tolerance
	start := time.Now()
	observability.Solver().OnSolveStart(ctx, listFile, loctol)
	for {
		stdout, stderr, err := f.attempt(ctx, listFile, loctol, timeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if loctol > toleranceCeil {
					err = fmt.Errorf("%s: %w", listFile, ErrUnstable)
					observability.Solver().OnSolveComplete(ctx, listFile, loctol, time.Since(start), err)
					return Caps{}, err
				}
				loctol *= 2
				observability.Solver().OnToleranceRaised(ctx, listFile, loctol)
				if f.Logger != nil {
					f.Logger.Debug("solver timed out, retrying", "file", listFile, "tolerance", loctol)
				}
				continue
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = fmt.Errorf("%s: %w: %s", listFile, ErrSolverFailed, firstLine(stderr))
			}
			observability.Solver().OnSolveComplete(ctx, listFile, loctol, time.Since(start), err)
			return Caps{}, err
		}

		if loctol > toleranceWarn && f.Logger != nil {
			f.Logger.Warn("high tolerance used", "file", listFile, "tolerance", loctol)
		}
		caps, err := ParseCaps(stdout)
		if err == nil {
			caps.Tolerance = loctol
		}
		observability.Solver().OnSolveComplete(ctx, listFile, loctol, time.Since(start), err)
		return caps, err
	}
}

func (f *FasterCap) attempt(ctx context.Context, listFile string, tolerance float64, timeout time.Duration) (stdout, stderr string, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, f.Exec, "-b", listFile, fmt.Sprintf("-a%.3f", tolerance))
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	runErr := cmd.Run()
	if attemptCtx.Err() != nil {
		return out.String(), errb.String(), attemptCtx.Err()
	}
	return out.String(), errb.String(), runErr
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
