package geometry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dielRefDelta is how far below a boundary segment the dielectric
// reference point is placed. The reference point tells the solver which
// side of the interface carries the "inner" permittivity.
const dielRefDelta = 0.005

// WriteFasterCap writes the model as a FasterCap 2-D problem into dir:
// one list file plus one geometry file per element, all named from base.
// It returns the path of the list file.
func WriteFasterCap(dir, base string, m *Model) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var lst strings.Builder
	fmt.Fprintf(&lst, "* %s\n", m.Name)
	lst.WriteString("* 2-D cross-section, dimensions in microns\n")

	for i, c := range m.Conductors {
		file := fmt.Sprintf("%s_c%d.txt", base, i)
		if err := writeConductorFile(filepath.Join(dir, file), c); err != nil {
			return "", err
		}
		fmt.Fprintf(&lst, "C %s  %s  0.0 0.0\n", file, ftoa(c.EpsOut))
	}
	for i, b := range m.Boundaries {
		file := fmt.Sprintf("%s_b%d.txt", base, i)
		if err := writeBoundaryFile(filepath.Join(dir, file), b); err != nil {
			return "", err
		}
		rx, ry := dielRef(b)
		fmt.Fprintf(&lst, "D %s  %s %s  0.0 0.0  %s %s\n",
			file, ftoa(b.EpsAbove), ftoa(b.EpsBelow), ftoa(rx), ftoa(ry))
	}

	path := filepath.Join(dir, base+".lst")
	if err := os.WriteFile(path, []byte(lst.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func writeConductorFile(path string, c Conductor) error {
	name := c.Net + "_" + c.Layer
	var sb strings.Builder
	fmt.Fprintf(&sb, "0 %s conductor\n", c.Layer)
	if c.Plane {
		segment(&sb, name, c.Left, c.Top, c.Right, c.Top)
	} else {
		// Closed rectangle, counterclockwise from the bottom-left corner.
		segment(&sb, name, c.Left, c.Bottom, c.Right, c.Bottom)
		segment(&sb, name, c.Right, c.Bottom, c.Right, c.Top)
		segment(&sb, name, c.Right, c.Top, c.Left, c.Top)
		segment(&sb, name, c.Left, c.Top, c.Left, c.Bottom)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func writeBoundaryFile(path string, b Boundary) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0 %s dielectric interface\n", b.Name)
	for i := 1; i < len(b.Line); i++ {
		p, q := b.Line[i-1], b.Line[i]
		if p == q {
			continue
		}
		segment(&sb, b.Name, p.X, p.Y, q.X, q.Y)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// dielRef picks the dielectric reference point: just below the midpoint
// of the first horizontal run of the boundary.
func dielRef(b Boundary) (x, y float64) {
	for i := 1; i < len(b.Line); i++ {
		p, q := b.Line[i-1], b.Line[i]
		if p.Y == q.Y && p.X != q.X {
			return (p.X + q.X) / 2, p.Y - dielRefDelta
		}
	}
	return b.Line[0].X, b.Line[0].Y - dielRefDelta
}

func segment(sb *strings.Builder, name string, x1, y1, x2, y2 float64) {
	fmt.Fprintf(sb, "S %s  %s %s  %s %s\n", name, ftoa(x1), ftoa(y1), ftoa(x2), ftoa(y2))
}

func ftoa(v float64) string {
	return fmt.Sprintf("%.6g", v)
}
