package solver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Magic drives the magic layout tool to extract a parasitic netlist from
// a generated Tcl script, as an independent cross-check of solver results.
type Magic struct {
	// Exec is the magic binary, "magic" by default.
	Exec string

	// Startup is the technology startup script passed via -rcfile.
	Startup string

	// Timeout bounds one extraction run.
	Timeout time.Duration

	// Logger receives diagnostics. Optional.
	Logger *log.Logger
}

// NewMagic returns a runner for the given technology startup script.
func NewMagic(startup string, logger *log.Logger) *Magic {
	return &Magic{Exec: "magic", Startup: startup, Timeout: defaultTimeout, Logger: logger}
}

// Extract runs magic on the script inside dir and returns the capacitance
// between the g1 and sub nets of the extracted netlist, in F/m of wire.
// The scratch files magic leaves behind (test.ext, test.spice) are
// removed afterwards.
func (m *Magic) Extract(ctx context.Context, dir, script string) (float64, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, m.Exec, "-dnull", "-noconsole", "-rcfile", m.Startup, script)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return 0, runCtx.Err()
		}
		return 0, fmt.Errorf("magic: %w: %s", ErrSolverFailed, firstLine(stderr.String()))
	}

	spicePath := filepath.Join(dir, "test.spice")
	data, err := os.ReadFile(spicePath)
	if err != nil {
		return 0, fmt.Errorf("magic produced no netlist: %w", err)
	}
	os.Remove(spicePath)
	os.Remove(filepath.Join(dir, "test.ext"))

	return ParseMagicCap(string(data), "g1", "sub")
}

// ParseMagicCap finds the capacitor between netA and netB in an extracted
// SPICE netlist and converts its femtofarad value, reported for the
// kilometer-scale extruded wire, to F/m.
func ParseMagicCap(spice, netA, netB string) (float64, error) {
	ab := netA + " " + netB
	ba := netB + " " + netA
	for _, line := range strings.Split(spice, "\n") {
		if !strings.HasPrefix(line, "C") {
			continue
		}
		if !strings.Contains(line, ab) && !strings.Contains(line, ba) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimSuffix(fields[3], "F"), "f")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("capacitor line %q: %w", line, err)
		}
		// fF over a 1000 um wire: 1e-15 F / 1e-3 m.
		return v * 1e-12, nil
	}
	return 0, fmt.Errorf("%w: %s / %s", ErrNoCapacitance, netA, netB)
}
