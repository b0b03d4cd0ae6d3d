package stack

import "slices"

// Layers is an insertion-ordered set of named layer definitions.
// Declaration order is significant: when two metals share a base height,
// or several sidewalls claim the same associated layer, the resolver picks
// the one declared first. Layers is not safe for concurrent mutation; once
// built it is treated as immutable by Resolve.
type Layers struct {
	names []string
	defs  map[string]Layer
}

// NewLayers creates an empty layer set.
func NewLayers() *Layers {
	return &Layers{defs: make(map[string]Layer)}
}

// Add appends a named layer definition, preserving declaration order.
// Returns ErrEmptyLayerName or ErrDuplicateLayer on invalid names.
func (l *Layers) Add(name string, def Layer) error {
	if name == "" {
		return ErrEmptyLayerName
	}
	if _, exists := l.defs[name]; exists {
		return &ConfigError{Layer: name, Err: ErrDuplicateLayer}
	}
	l.names = append(l.names, name)
	l.defs[name] = def
	return nil
}

// Get returns the definition for name and whether it exists.
func (l *Layers) Get(name string) (Layer, bool) {
	def, ok := l.defs[name]
	return def, ok
}

// Len returns the number of declared layers.
func (l *Layers) Len() int { return len(l.names) }

// Names returns the layer names in declaration order.
func (l *Layers) Names() []string { return slices.Clone(l.names) }

// Metals returns the names of all metal layers in declaration order.
func (l *Layers) Metals() []string {
	var metals []string
	for _, name := range l.names {
		if _, ok := l.defs[name].(Metal); ok {
			metals = append(metals, name)
		}
	}
	return metals
}

// Diffusions returns the names of all diffusion layers in declaration
// order. Any of them can serve as a reference conductor.
func (l *Layers) Diffusions() []string {
	var diffs []string
	for _, name := range l.names {
		if _, ok := l.defs[name].(Diffusion); ok {
			diffs = append(diffs, name)
		}
	}
	return diffs
}

// Validate checks every cross-reference in the description: each name used
// as "dielectric beneath", "dielectric above" or "associated layer" must
// itself be declared. It returns a ConfigError naming both the offending
// layer and the missing reference. An unresolved reference is a
// configuration error, never a silently-ignored default.
func (l *Layers) Validate() error {
	check := func(layer, ref string) error {
		if ref == "" {
			return &ConfigError{Layer: layer, Ref: ref, Err: ErrUnknownLayer}
		}
		if _, ok := l.defs[ref]; !ok {
			return &ConfigError{Layer: layer, Ref: ref, Err: ErrUnknownLayer}
		}
		return nil
	}

	for _, name := range l.names {
		var err error
		switch def := l.defs[name].(type) {
		case Diffusion:
			err = check(name, def.Above)
		case Dielectric:
			err = check(name, def.Beneath)
		case FieldOxide:
			// No references.
		case Boundary:
			err = check(name, def.Beneath)
		case Conformal:
			err = check(name, def.Associated)
		case Sidewall:
			if err = check(name, def.Associated); err == nil {
				switch l.defs[def.Associated].(type) {
				case Metal, Sidewall:
				default:
					err = &ConfigError{Layer: name, Ref: def.Associated, Err: ErrNotMetal}
				}
			}
		case Metal:
			if err = check(name, def.Beneath); err == nil {
				err = check(name, def.Above)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
