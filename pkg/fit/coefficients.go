package fit

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Key builds the map key for a metal/conductor pair.
func Key(metal, conductor string) string { return metal + "+" + conductor }

// Coefficients is the full model set extracted from a characterization
// run. Pair-valued maps are keyed with [Key]; sidewall entries are keyed
// by metal alone since a wire only couples laterally to its own layer.
type Coefficients struct {
	AreaCap       map[string]float64    // aF/um^2
	FringeCap     map[string]float64    // aF/um
	Sidewall      map[string][2]float64 // multiplier aF/um, offset um
	FringeShield  map[string][2]float64 // atan multiplier, offset
	FringePartial map[string][2]float64 // atan multiplier, offset
}

// NewCoefficients returns an empty, fully initialized model set.
func NewCoefficients() *Coefficients {
	return &Coefficients{
		AreaCap:       make(map[string]float64),
		FringeCap:     make(map[string]float64),
		Sidewall:      make(map[string][2]float64),
		FringeShield:  make(map[string][2]float64),
		FringePartial: make(map[string][2]float64),
	}
}

// AreaCapFor looks up the area capacitance for a pair in either key
// order; whichever of the two layers is on top, the value is the same.
func (c *Coefficients) AreaCapFor(metal, conductor string) (float64, bool) {
	if v, ok := c.AreaCap[Key(metal, conductor)]; ok {
		return v, true
	}
	v, ok := c.AreaCap[Key(conductor, metal)]
	return v, ok
}

// Write emits the coefficients in the canonical text format, grouped per
// metal in the given order, with conductors (reference planes and other
// metals) in the given order inside each group. Pairs absent from a map
// are skipped.
func (c *Coefficients) Write(w io.Writer, metals, conductors []string) error {
	bw := bufio.NewWriter(w)
	for _, metal := range metals {
		for _, cond := range conductors {
			if cond == metal {
				continue
			}
			if v, ok := c.AreaCap[Key(metal, cond)]; ok {
				fmt.Fprintf(bw, "areacap %s %s %.3f\n", metal, cond, v)
			}
		}
		for _, cond := range conductors {
			if cond == metal {
				continue
			}
			if v, ok := c.FringeCap[Key(metal, cond)]; ok {
				fmt.Fprintf(bw, "fringecap %s %s %.3f\n", metal, cond, v)
			}
		}
		if v, ok := c.Sidewall[metal]; ok {
			fmt.Fprintf(bw, "sidewall %s %.3f %.3f\n", metal, v[0], v[1])
		}
		for _, cond := range conductors {
			if cond == metal {
				continue
			}
			if v, ok := c.FringeShield[Key(metal, cond)]; ok {
				fmt.Fprintf(bw, "fringeshield %s %s %.3f %.3f\n", metal, cond, v[0], v[1])
			}
		}
		for _, cond := range conductors {
			if cond == metal {
				continue
			}
			if v, ok := c.FringePartial[Key(metal, cond)]; ok {
				fmt.Fprintf(bw, "fringepartial %s %s %.3f %.3f\n", metal, cond, v[0], v[1])
			}
		}
	}
	return bw.Flush()
}

// ReadCoefficients parses the canonical text format back into a model
// set.
func ReadCoefficients(r io.Reader) (*Coefficients, error) {
	c := NewCoefficients()
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "areacap":
			err = parsePair1(fields, c.AreaCap)
		case "fringecap":
			err = parsePair1(fields, c.FringeCap)
		case "sidewall":
			if len(fields) != 4 {
				err = fmt.Errorf("want 4 fields, got %d", len(fields))
				break
			}
			var v [2]float64
			if v, err = parse2(fields[2], fields[3]); err == nil {
				c.Sidewall[fields[1]] = v
			}
		case "fringeshield":
			err = parsePair2(fields, c.FringeShield)
		case "fringepartial":
			err = parsePair2(fields, c.FringePartial)
		default:
			err = fmt.Errorf("unknown coefficient type %q", fields[0])
		}
		if err != nil {
			return nil, fmt.Errorf("coefficients line %d: %w", lineno, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func parsePair1(fields []string, m map[string]float64) error {
	if len(fields) != 4 {
		return fmt.Errorf("want 4 fields, got %d", len(fields))
	}
	v, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return err
	}
	m[Key(fields[1], fields[2])] = v
	return nil
}

func parsePair2(fields []string, m map[string][2]float64) error {
	if len(fields) != 5 {
		return fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	v, err := parse2(fields[3], fields[4])
	if err != nil {
		return err
	}
	m[Key(fields[1], fields[2])] = v
	return nil
}

func parse2(a, b string) ([2]float64, error) {
	va, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return [2]float64{}, err
	}
	vb, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{va, vb}, nil
}
