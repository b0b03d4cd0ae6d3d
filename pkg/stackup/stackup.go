// Package stackup loads process-stack description files. A description is
// a TOML document with one [layers.<name>] table per layer, an optional
// [limits.<name>] table per metal carrying design-rule minima, and a few
// top-level process attributes. Declaration order of the layer tables is
// preserved, since the resolver uses it to break height ties.
package stackup

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hmartens/fieldcap/pkg/stack"
)

var (
	// ErrNoLayers is returned when a description declares no layer tables.
	ErrNoLayers = errors.New("description declares no layers")

	// ErrUnknownLayerType is returned when a layer table carries a type
	// outside the supported set.
	ErrUnknownLayerType = errors.New("unknown layer type")

	// ErrMissingLayerType is returned when a layer table has no type field.
	ErrMissingLayerType = errors.New("layer table has no type")

	// ErrLimitUnknownLayer is returned when a [limits] table names a layer
	// that is not a declared metal.
	ErrLimitUnknownLayer = errors.New("limits entry does not name a metal layer")
)

// Limit carries the design-rule minima of one metal layer, used to choose
// realistic wire widths and spacings when sweeping geometries.
type Limit struct {
	Width   float64 `toml:"width"`   // minimum drawn width, microns
	Spacing float64 `toml:"spacing"` // minimum spacing to a neighbor, microns
}

// Document is a loaded process-stack description.
type Document struct {
	Process    string  // process name, e.g. "sky130A"
	GateLength float64 // nominal gate length, microns
	Layers     *stack.Layers
	Limits     map[string]Limit

	// MagicLayers maps layer names to magic paint types, for the layers
	// that declare one. Only needed when cross-checking against magic
	// extraction.
	MagicLayers map[string]string
}

// layerTable is the union of all per-type layer fields; Type selects which
// of them are meaningful.
type layerTable struct {
	Type       string  `toml:"type"`
	Height     float64 `toml:"height"`
	Thickness  float64 `toml:"thickness"`
	Epsilon    float64 `toml:"epsilon"`
	Width      float64 `toml:"width"`
	Elsewhere  float64 `toml:"elsewhere"`
	Above      string  `toml:"above"`
	Beneath    string  `toml:"beneath"`
	Associated string  `toml:"associated"`
	Magic      string  `toml:"magic"`
}

type document struct {
	Process    string                `toml:"process"`
	GateLength float64               `toml:"gate-length"`
	Layers     map[string]layerTable `toml:"layers"`
	Limits     map[string]Limit      `toml:"limits"`
}

// Load reads and parses a description file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse parses a TOML description. The resulting layer set is validated, so
// every cross-reference in the document is known to resolve.
func Parse(data []byte) (*Document, error) {
	var raw document
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}
	if len(raw.Layers) == 0 {
		return nil, ErrNoLayers
	}

	layers := stack.NewLayers()
	magic := make(map[string]string)
	for _, name := range layerOrder(md) {
		tbl, ok := raw.Layers[name]
		if !ok {
			continue
		}
		def, err := tbl.toLayer(name)
		if err != nil {
			return nil, err
		}
		if err := layers.Add(name, def); err != nil {
			return nil, err
		}
		if tbl.Magic != "" {
			magic[name] = tbl.Magic
		}
	}
	if err := layers.Validate(); err != nil {
		return nil, err
	}

	for name := range raw.Limits {
		def, ok := layers.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrLimitUnknownLayer, name)
		}
		if _, isMetal := def.(stack.Metal); !isMetal {
			return nil, fmt.Errorf("%w: %q", ErrLimitUnknownLayer, name)
		}
	}

	return &Document{
		Process:     raw.Process,
		GateLength:  raw.GateLength,
		Layers:      layers,
		Limits:      raw.Limits,
		MagicLayers: magic,
	}, nil
}

// layerOrder recovers the document order of the [layers.*] tables. TOML
// maps lose ordering, but the decoder's metadata reports keys in the order
// they appeared.
func layerOrder(md toml.MetaData) []string {
	var names []string
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) < 2 || key[0] != "layers" {
			continue
		}
		if name := key[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (t layerTable) toLayer(name string) (stack.Layer, error) {
	switch t.Type {
	case "diffusion":
		return stack.Diffusion{Height: t.Height, Above: t.Above}, nil
	case "dielectric":
		return stack.Dielectric{Epsilon: t.Epsilon, Beneath: t.Beneath}, nil
	case "field-oxide":
		return stack.FieldOxide{Epsilon: t.Epsilon}, nil
	case "boundary":
		return stack.Boundary{Height: t.Height, Epsilon: t.Epsilon, Beneath: t.Beneath}, nil
	case "conformal":
		return stack.Conformal{
			Epsilon:    t.Epsilon,
			Thickness:  t.Thickness,
			Width:      t.Width,
			Elsewhere:  t.Elsewhere,
			Associated: t.Associated,
		}, nil
	case "sidewall":
		return stack.Sidewall{
			Epsilon:    t.Epsilon,
			Thickness:  t.Thickness,
			Width:      t.Width,
			Associated: t.Associated,
		}, nil
	case "metal":
		return stack.Metal{
			Height:    t.Height,
			Thickness: t.Thickness,
			Beneath:   t.Beneath,
			Above:     t.Above,
		}, nil
	case "":
		return nil, fmt.Errorf("layer %q: %w", name, ErrMissingLayerType)
	}
	return nil, fmt.Errorf("layer %q: %w: %q", name, ErrUnknownLayerType, t.Type)
}
