package stack

// Layer is one entry of a process-stack description. The concrete types
// Diffusion, Dielectric, FieldOxide, Boundary, Conformal, Sidewall and
// Metal form a closed set; the resolver dispatches over them with
// exhaustive type switches. All heights and thicknesses are in microns,
// measured from the substrate top at y = 0.
type Layer interface {
	// sealed prevents definitions outside this package, keeping the
	// type switches in the resolver exhaustive.
	sealed()
}

// Diffusion is a ground-plane candidate: the substrate, a well, or a drawn
// diffusion region. Several diffusion layers may be declared; a resolution
// uses at most one of them as its reference conductor.
type Diffusion struct {
	Height float64 // height of the top surface above y=0
	Above  string  // dielectric layer directly above the plane
}

// Dielectric is a planar dielectric of variable thickness. Its extent is
// implied by the layers around it rather than declared directly.
type Dielectric struct {
	Epsilon float64 // relative dielectric constant
	Beneath string  // dielectric layer underneath
}

// FieldOxide is the planar dielectric directly above a diffusion, well, or
// substrate.
type FieldOxide struct {
	Epsilon float64
}

// Boundary is a dielectric boundary at a fixed height above the substrate,
// unrelated to any metal.
type Boundary struct {
	Height  float64 // height above y=0
	Epsilon float64
	Beneath string // dielectric layer underneath
}

// Conformal is a dielectric that wraps its associated layer: it has one
// thickness directly above the associated layer, a sidewall width beside
// it, and a different thickness everywhere else.
type Conformal struct {
	Epsilon    float64
	Thickness  float64 // thickness directly above the associated layer
	Width      float64 // sidewall width beside the associated layer
	Elsewhere  float64 // thickness where the associated layer is absent
	Associated string  // associated metal or dielectric layer
}

// Sidewall is a conformal dielectric with zero thickness except directly
// beside its associated conductor's edge. Sidewalls may themselves carry
// further sidewalls (a chain of at most two is resolved).
type Sidewall struct {
	Epsilon    float64
	Thickness  float64 // vertical thickness above the associated layer
	Width      float64 // width beside the associated layer's edge
	Associated string  // associated metal, or another sidewall
}

// Metal is a conductor layer: wire metal, local interconnect, poly, etc.
type Metal struct {
	Height    float64 // base height above y=0
	Thickness float64
	Beneath   string // dielectric layer underneath
	Above     string // dielectric layer on top (and beside, absent a conformal)
}

func (Diffusion) sealed()  {}
func (Dielectric) sealed() {}
func (FieldOxide) sealed() {}
func (Boundary) sealed()   {}
func (Conformal) sealed()  {}
func (Sidewall) sealed()   {}
func (Metal) sealed()      {}

// epsilonOf returns the dielectric constant of a layer definition, or
// false for conductors and ground planes.
func epsilonOf(def Layer) (float64, bool) {
	switch d := def.(type) {
	case Dielectric:
		return d.Epsilon, true
	case FieldOxide:
		return d.Epsilon, true
	case Boundary:
		return d.Epsilon, true
	case Conformal:
		return d.Epsilon, true
	case Sidewall:
		return d.Epsilon, true
	}
	return 0, false
}
