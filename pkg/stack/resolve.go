package stack

import (
	"cmp"
	"math"
	"slices"
)

// Kind classifies a resolved layer record.
type Kind int

const (
	// KindGroundPlane marks the reference conductor at the bottom of the
	// resolved stack.
	KindGroundPlane Kind = iota
	// KindDielectric marks any dielectric record, including conformal and
	// sidewall dielectrics that were flattened during resolution.
	KindDielectric
	// KindConductor marks a drawn metal layer.
	KindConductor
)

// String returns the kind name used in diagnostics and CLI output.
func (k Kind) String() string {
	switch k {
	case KindGroundPlane:
		return "ground"
	case KindDielectric:
		return "dielectric"
	case KindConductor:
		return "conductor"
	}
	return "unknown"
}

// Resolved is one record of a resolved vertical cross-section. Heights are
// in microns above the substrate top. Top and TopMetal differ, and Offset
// is nonzero, only for dielectric records whose associated metal is in the
// active set; everywhere else the layer behaves as a flat film.
type Resolved struct {
	Name     string
	Kind     Kind
	Metal    string  // associated metal, or "" if none
	Bottom   float64 // bottom height with no metal present
	Top      float64 // top height with no metal present
	TopMetal float64 // top height with the associated metal present
	Offset   float64 // lateral offset from the metal edge, with metal present
	Epsilon  float64 // relative dielectric constant; 0 for conductors
}

// Stack is a resolved cross-section ordered from the topmost record (the
// air sentinel) down to the reference conductor, with no gaps in between.
type Stack []Resolved

// TopConductor returns the index of the topmost conductor record, or false
// when no metal in the active set lies above the reference plane.
func (s Stack) TopConductor() (int, bool) {
	for i, rec := range s {
		if rec.Kind == KindConductor {
			return i, true
		}
	}
	return 0, false
}

// Reference returns the ground-plane record at the bottom of the stack.
func (s Stack) Reference() Resolved { return s[len(s)-1] }

// Resolve flattens a process-stack description into the vertical
// cross-section seen at the given reference conductor, treating exactly
// the named active metals as physically drawn. Metals outside the active
// set are phantoms: they contribute the height of their conformal
// dielectrics but no conductor geometry and no lateral growth.
//
// The reference must name a diffusion or metal layer; a metal reference
// places the ground plane at the top of that conductor so wire-to-wire
// queries reuse the same machinery as wire-to-substrate. Every name in
// active must denote a metal layer.
//
// The returned stack runs top-to-bottom, starting with an "air" sentinel
// (ε = 1.0, unbounded top) and ending with the ground-plane record.
// Resolve is pure: identical inputs produce identical stacks, and errors
// are deterministic ConfigError values, never retried.
func Resolve(layers *Layers, reference string, active []string) (Stack, error) {
	if err := layers.Validate(); err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool, len(active))
	for _, name := range active {
		def, ok := layers.Get(name)
		if !ok {
			return nil, &ConfigError{Layer: name, Ref: name, Err: ErrUnknownLayer}
		}
		if _, isMetal := def.(Metal); !isMetal {
			return nil, &ConfigError{Layer: name, Ref: name, Err: ErrNotMetal}
		}
		activeSet[name] = true
	}

	r := &resolver{
		layers:       layers,
		active:       activeSet,
		sidewallFor:  make(map[string]string),
		conformalFor: make(map[string]string),
		emitted:      make(map[string]bool),
	}
	r.index()

	if err := r.establish(reference); err != nil {
		return nil, err
	}
	for {
		rg, ok := r.nextRung()
		if !ok {
			break
		}
		if err := r.processRung(rg); err != nil {
			return nil, err
		}
	}
	r.terminate()

	// Built bottom-up; consumers want top-of-stack first.
	slices.Reverse(r.out)
	return r.out, nil
}

// cursor is the mutable scan state threaded through resolution. yref
// tracks the running top height with the rung metal present, ybase the
// running bottom height over open field, and wref the lateral offset
// accumulated outward from the current rung's conductor edge.
type cursor struct {
	yref  float64
	ybase float64
	wref  float64
}

type rung struct {
	name string
	def  Metal
}

type resolver struct {
	layers *Layers
	active map[string]bool

	cur cursor
	out Stack

	metals       []rung            // sorted by base height, declaration order on ties
	bounds       []boundAt         // boundary layers, same ordering
	sidewallFor  map[string]string // associated name -> first declared sidewall
	conformalFor map[string]string // associated name -> first declared conformal

	emitted map[string]bool
}

type boundAt struct {
	name string
	def  Boundary
}

// index pre-sorts the description once so the upward scan does not rescan
// the whole mapping per rung. Stable sorts keep declaration order as the
// tie-break for equal heights.
func (r *resolver) index() {
	for _, name := range r.layers.names {
		switch def := r.layers.defs[name].(type) {
		case Metal:
			r.metals = append(r.metals, rung{name: name, def: def})
		case Boundary:
			r.bounds = append(r.bounds, boundAt{name: name, def: def})
		case Sidewall:
			if _, taken := r.sidewallFor[def.Associated]; !taken {
				r.sidewallFor[def.Associated] = name
			}
		case Conformal:
			if _, taken := r.conformalFor[def.Associated]; !taken {
				r.conformalFor[def.Associated] = name
			}
		}
	}
	slices.SortStableFunc(r.metals, func(a, b rung) int {
		return cmp.Compare(a.def.Height, b.def.Height)
	})
	slices.SortStableFunc(r.bounds, func(a, b boundAt) int {
		return cmp.Compare(a.def.Height, b.def.Height)
	})
}

// establish locates the reference conductor, emits its ground-plane record
// and, for a metal reference, applies the conformal dielectric wrapping it
// (the reference conductor is always present by construction, so that
// conformal behaves as a flat film).
func (r *resolver) establish(reference string) error {
	def, ok := r.layers.Get(reference)
	if !ok {
		return &ConfigError{Layer: reference, Ref: reference, Err: ErrUnknownLayer}
	}

	var height float64
	var isMetal bool
	switch d := def.(type) {
	case Diffusion:
		height = d.Height
	case Metal:
		height = d.Height + d.Thickness
		isMetal = true
	default:
		return &ConfigError{Layer: reference, Ref: reference, Err: ErrBadReference}
	}

	r.cur = cursor{yref: height, ybase: height}
	r.emit(Resolved{
		Name:     reference,
		Kind:     KindGroundPlane,
		Bottom:   height,
		Top:      height,
		TopMetal: height,
	})

	if isMetal {
		if cname, ok := r.conformalFor[reference]; ok {
			c := r.layers.defs[cname].(Conformal)
			top := r.cur.yref + c.Thickness
			r.emit(Resolved{
				Name:     cname,
				Kind:     KindDielectric,
				Bottom:   r.cur.yref,
				Top:      top,
				TopMetal: top,
				Epsilon:  c.Epsilon,
			})
			r.cur.yref = top
			r.cur.ybase = top
		}
	}
	return nil
}

// nextRung selects the lowest metal whose base height exceeds the current
// reference height, with declaration order breaking ties.
func (r *resolver) nextRung() (rung, bool) {
	for _, m := range r.metals {
		if m.def.Height > r.cur.yref {
			return m, true
		}
	}
	return rung{}, false
}

// processRung handles one selected metal: any boundary dielectrics below
// it, the dielectric declared beneath it, and then either the conductor
// with its sidewall/conformal chain (active metal) or the flattened
// conformal film of a phantom metal.
func (r *resolver) processRung(rg rung) error {
	prev := r.cur.yref

	// Fixed-height boundaries between the previous reference and the rung
	// are flat dielectrics; they do not reset the rung search.
	for _, b := range r.bounds {
		if b.def.Height > r.cur.yref && b.def.Height < rg.def.Height {
			r.emit(Resolved{
				Name:     b.name,
				Kind:     KindDielectric,
				Bottom:   prev,
				Top:      b.def.Height,
				TopMetal: b.def.Height,
				Epsilon:  b.def.Epsilon,
			})
			prev = b.def.Height
		}
	}

	// A new planar rung: the lateral offset accumulator starts over.
	r.cur = cursor{yref: rg.def.Height, ybase: rg.def.Height}

	eps, ok := epsilonOf(r.layers.defs[rg.def.Beneath])
	if !ok {
		return &ConfigError{Layer: rg.name, Ref: rg.def.Beneath, Err: ErrNotDielectric}
	}
	r.emit(Resolved{
		Name:     rg.def.Beneath,
		Kind:     KindDielectric,
		Bottom:   prev,
		Top:      rg.def.Height,
		TopMetal: rg.def.Height,
		Epsilon:  eps,
	})

	if r.active[rg.name] {
		r.cur.yref += rg.def.Thickness
		r.emit(Resolved{
			Name:     rg.name,
			Kind:     KindConductor,
			Bottom:   rg.def.Height,
			Top:      r.cur.yref,
			TopMetal: r.cur.yref,
		})
		r.applyWrap(rg)
	} else {
		r.applyPhantom(rg)
	}
	return nil
}

// applyWrap resolves the sidewall chain and conformal dielectric around a
// drawn conductor: up to two chained sidewalls, then one conformal bound
// to the outermost sidewall, or one bound directly to the metal when no
// sidewall chain exists.
func (r *resolver) applyWrap(rg rung) {
	first, hasSidewall := r.sidewallFor[rg.name]
	if !hasSidewall {
		if cname, ok := r.conformalFor[rg.name]; ok {
			r.applyConformal(cname, rg.name)
		}
		return
	}

	outer := first
	r.applySidewall(first, rg.name)
	if second, ok := r.sidewallFor[first]; ok {
		outer = second
		r.applySidewall(second, rg.name)
	}
	if cname, ok := r.conformalFor[outer]; ok {
		r.applyConformal(cname, rg.name)
	}
}

// applySidewall emits one sidewall record. A sidewall exists only beside
// the conductor's edge: over open field it has zero thickness, so only the
// with-metal top height and the lateral offset advance.
func (r *resolver) applySidewall(name, metal string) {
	s := r.layers.defs[name].(Sidewall)
	r.cur.wref += s.Width
	r.emit(Resolved{
		Name:     name,
		Kind:     KindDielectric,
		Metal:    metal,
		Bottom:   r.cur.ybase,
		Top:      r.cur.ybase,
		TopMetal: r.cur.yref + s.Thickness,
		Offset:   r.cur.wref,
		Epsilon:  s.Epsilon,
	})
	r.cur.yref += s.Thickness
}

// applyConformal emits one conformal record around a drawn conductor. A
// conformal film raises the stack even over open field, so the
// without-metal heights advance by its elsewhere thickness while the
// with-metal top advances by its above thickness.
func (r *resolver) applyConformal(name, metal string) {
	c := r.layers.defs[name].(Conformal)
	r.cur.wref += c.Width
	r.emit(Resolved{
		Name:     name,
		Kind:     KindDielectric,
		Metal:    metal,
		Bottom:   r.cur.ybase,
		Top:      r.cur.ybase + c.Elsewhere,
		TopMetal: r.cur.yref + c.Thickness,
		Offset:   r.cur.wref,
		Epsilon:  c.Epsilon,
	})
	r.cur.yref += c.Thickness
	r.cur.ybase += c.Elsewhere
}

// applyPhantom handles a metal that exists in the process but is not
// drawn here. Its conformal dielectric, found directly or transitively
// through the sidewall chain, is applied as a flat film using only its
// elsewhere thickness; there is no conductor edge for it to wrap, so the
// lateral geometry is not used. Sidewalls of a phantom metal vanish.
func (r *resolver) applyPhantom(rg rung) {
	cname, ok := r.conformalFor[rg.name]
	if !ok {
		if first, hasSidewall := r.sidewallFor[rg.name]; hasSidewall {
			cname, ok = r.conformalFor[first]
			if !ok {
				if second, chained := r.sidewallFor[first]; chained {
					cname, ok = r.conformalFor[second]
				}
			}
		}
	}
	if !ok {
		return
	}

	c := r.layers.defs[cname].(Conformal)
	top := r.cur.ybase + c.Elsewhere
	r.emit(Resolved{
		Name:     cname,
		Kind:     KindDielectric,
		Metal:    rg.name,
		Bottom:   r.cur.ybase,
		Top:      top,
		TopMetal: top,
		Epsilon:  c.Epsilon,
	})
	r.cur.ybase = top
	r.cur.yref = top
}

// terminate emits what remains above the last rung: fixed-height boundary
// dielectrics first, then the planar dielectrics found by walking the
// "beneath" chain down from a declared air layer, and finally the
// unbounded air sentinel itself. The sentinel is always present (ε = 1.0)
// even when the description declares no air layer.
func (r *resolver) terminate() {
	// Boundaries between rungs are handled per rung; any left above the
	// topmost rung still cap the stack at their declared heights.
	for _, b := range r.bounds {
		if r.emitted[b.name] || b.def.Height <= r.cur.ybase {
			continue
		}
		r.emit(Resolved{
			Name:     b.name,
			Kind:     KindDielectric,
			Bottom:   r.cur.ybase,
			Top:      b.def.Height,
			TopMetal: b.def.Height,
			Epsilon:  b.def.Epsilon,
		})
		r.cur.ybase = b.def.Height
		if b.def.Height > r.cur.yref {
			r.cur.yref = b.def.Height
		}
	}

	for _, name := range r.topChain() {
		d := r.layers.defs[name].(Dielectric)
		r.emit(Resolved{
			Name:     name,
			Kind:     KindDielectric,
			Bottom:   r.cur.ybase,
			Top:      r.cur.ybase,
			TopMetal: r.cur.ybase,
			Epsilon:  d.Epsilon,
		})
	}
	r.emit(Resolved{
		Name:     "air",
		Kind:     KindDielectric,
		Bottom:   r.cur.ybase,
		Top:      math.Inf(1),
		TopMetal: math.Inf(1),
		Offset:   r.cur.wref,
		Epsilon:  1.0,
	})
}

// topChain walks beneath-references downward from the declared "air"
// layer until it reaches an already-emitted layer, collecting the planar
// dielectrics in between. The result is ordered bottom-up. The walk is
// bounded by the layer count, so a malformed cycle cannot loop forever.
func (r *resolver) topChain() []string {
	air, ok := r.layers.defs["air"]
	if !ok {
		return nil
	}
	d, ok := air.(Dielectric)
	if !ok {
		return nil
	}

	var chain []string
	name := d.Beneath
	for range r.layers.names {
		if r.emitted[name] {
			break
		}
		def, ok := r.layers.defs[name].(Dielectric)
		if !ok {
			break
		}
		chain = append(chain, name)
		name = def.Beneath
	}
	slices.Reverse(chain)
	return chain
}

func (r *resolver) emit(rec Resolved) {
	r.out = append(r.out, rec)
	r.emitted[rec.Name] = true
}
