package geometry

import (
	"errors"
	"fmt"
	"io"
)

// ErrNoMagicLayer is returned when a model conductor has no magic paint
// type in the layer translation table.
var ErrNoMagicLayer = errors.New("no magic layer for stack layer")

// wireLength is the extruded length of the cross-section in the magic
// layout, microns. Extracted capacitances are divided back to per-micron.
const wireLength = 1000.0

// WriteMagicScript writes a magic Tcl script that draws the model's wires
// over its ground plane and extracts the parasitic capacitance netlist.
// The layers map translates stack layer names to magic paint types. The
// cross-section is extruded along y by a kilometer-scale wire length so
// edge effects at the wire ends are negligible.
func WriteMagicScript(w io.Writer, m *Model, layers map[string]string) error {
	type paintOp struct {
		c     Conductor
		paint string
	}
	var wires, planes []paintOp
	for _, c := range m.Conductors {
		paint, ok := layers[c.Layer]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoMagicLayer, c.Layer)
		}
		if c.Plane {
			planes = append(planes, paintOp{c, paint})
		} else {
			wires = append(wires, paintOp{c, paint})
		}
	}

	var sb errWriter
	sb.w = w
	sb.printf("load test\n")
	for _, op := range wires {
		sb.printf("box values %gum 0 %gum %gum\n", op.c.Left, op.c.Right, wireLength)
		sb.printf("paint %s\n", op.paint)
		sb.printf("label %s c %s\n", op.c.Net, op.paint)
	}
	for _, op := range planes {
		sb.printf("box values %gum %gum %gum %gum\n",
			-HalfWidth, -HalfWidth, HalfWidth, wireLength+HalfWidth)
		sb.printf("paint %s\n", op.paint)
		sb.printf("box values %gum %gum %gum %gum\n", -20.0, -20.0, -20.0, -20.0)
		sb.printf("label %s c %s\n", op.c.Net, op.paint)
	}
	sb.printf("extract all\n")
	sb.printf("ext2spice lvs\n")
	sb.printf("ext2spice cthresh 0\n")
	sb.printf("ext2spice\n")
	sb.printf("quit -noprompt\n")
	return sb.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
