package stack

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

const heightTol = 1e-9

func approx(a, b float64) bool {
	if math.IsInf(a, 1) || math.IsInf(b, 1) {
		return math.IsInf(a, 1) && math.IsInf(b, 1)
	}
	return math.Abs(a-b) < heightTol
}

// polyStack is the minimal description exercised record-by-record below:
// substrate, field oxide, one poly conductor with a conformal nitride, and
// the planar dielectrics above it.
func polyStack(t *testing.T) *Layers {
	t.Helper()
	l := NewLayers()
	for _, e := range []struct {
		name string
		def  Layer
	}{
		{"subs", Diffusion{Height: 0, Above: "fox"}},
		{"fox", FieldOxide{Epsilon: 3.9}},
		{"poly", Metal{Height: 0.32, Thickness: 0.2, Beneath: "fox", Above: "ild"}},
		{"nit", Conformal{Epsilon: 7.5, Thickness: 0.05, Width: 0.05, Elsewhere: 0.05, Associated: "poly"}},
		{"ild", Dielectric{Epsilon: 4.05, Beneath: "nit"}},
		{"air", Dielectric{Epsilon: 1.0, Beneath: "ild"}},
	} {
		if err := l.Add(e.name, e.def); err != nil {
			t.Fatalf("Add(%q) failed: %v", e.name, err)
		}
	}
	return l
}

// beolStack is a fuller description with a two-deep sidewall chain on poly,
// a conformal on the local interconnect, and two wire metals.
func beolStack(t *testing.T) *Layers {
	t.Helper()
	l := NewLayers()
	for _, e := range []struct {
		name string
		def  Layer
	}{
		{"subs", Diffusion{Height: 0, Above: "fox"}},
		{"fox", FieldOxide{Epsilon: 3.9}},
		{"poly", Metal{Height: 0.3262, Thickness: 0.18, Beneath: "fox", Above: "psg"}},
		{"iox", Sidewall{Epsilon: 3.9, Thickness: 0.006, Width: 0.006, Associated: "poly"}},
		{"spnit", Sidewall{Epsilon: 7.5, Thickness: 0.0431, Width: 0.0431, Associated: "iox"}},
		{"psg", Dielectric{Epsilon: 3.9, Beneath: "fox"}},
		{"li", Metal{Height: 0.9361, Thickness: 0.1, Beneath: "psg", Above: "lint"}},
		{"lint", Conformal{Epsilon: 7.3, Thickness: 0.075, Width: 0.075, Elsewhere: 0.075, Associated: "li"}},
		{"nild2", Dielectric{Epsilon: 4.05, Beneath: "lint"}},
		{"m1", Metal{Height: 1.3761, Thickness: 0.36, Beneath: "nild2", Above: "nild3"}},
		{"nild3", Dielectric{Epsilon: 4.5, Beneath: "nild2"}},
		{"m2", Metal{Height: 2.0061, Thickness: 0.36, Beneath: "nild3", Above: "nild4"}},
		{"nild4", Dielectric{Epsilon: 4.2, Beneath: "nild3"}},
		{"air", Dielectric{Epsilon: 1.0, Beneath: "nild4"}},
	} {
		if err := l.Add(e.name, e.def); err != nil {
			t.Fatalf("Add(%q) failed: %v", e.name, err)
		}
	}
	return l
}

func TestResolvePolyFromSubstrate(t *testing.T) {
	got, err := Resolve(polyStack(t), "subs", []string{"poly"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := Stack{
		{Name: "air", Kind: KindDielectric, Bottom: 0.37, Top: math.Inf(1), TopMetal: math.Inf(1), Offset: 0.05, Epsilon: 1.0},
		{Name: "ild", Kind: KindDielectric, Bottom: 0.37, Top: 0.37, TopMetal: 0.37, Epsilon: 4.05},
		{Name: "nit", Kind: KindDielectric, Metal: "poly", Bottom: 0.32, Top: 0.37, TopMetal: 0.57, Offset: 0.05, Epsilon: 7.5},
		{Name: "poly", Kind: KindConductor, Bottom: 0.32, Top: 0.52, TopMetal: 0.52},
		{Name: "fox", Kind: KindDielectric, Bottom: 0, Top: 0.32, TopMetal: 0.32, Epsilon: 3.9},
		{Name: "subs", Kind: KindGroundPlane, Bottom: 0, Top: 0, TopMetal: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Name != w.Name || g.Kind != w.Kind || g.Metal != w.Metal {
			t.Errorf("record %d: got %s/%s/%q, want %s/%s/%q", i, g.Name, g.Kind, g.Metal, w.Name, w.Kind, w.Metal)
		}
		if !approx(g.Bottom, w.Bottom) || !approx(g.Top, w.Top) || !approx(g.TopMetal, w.TopMetal) {
			t.Errorf("record %d (%s): heights got (%g, %g, %g), want (%g, %g, %g)",
				i, g.Name, g.Bottom, g.Top, g.TopMetal, w.Bottom, w.Top, w.TopMetal)
		}
		if !approx(g.Offset, w.Offset) || !approx(g.Epsilon, w.Epsilon) {
			t.Errorf("record %d (%s): offset/epsilon got (%g, %g), want (%g, %g)",
				i, g.Name, g.Offset, g.Epsilon, w.Offset, w.Epsilon)
		}
	}
}

func TestResolvePhantomMetal(t *testing.T) {
	// poly absent from the active set: no conductor record, but its
	// conformal nitride still raises the stack by its elsewhere thickness.
	got, err := Resolve(polyStack(t), "subs", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, rec := range got {
		if rec.Kind == KindConductor {
			t.Fatalf("phantom metal produced conductor record %q", rec.Name)
		}
	}

	var nit Resolved
	found := false
	for _, rec := range got {
		if rec.Name == "nit" {
			nit, found = rec, true
		}
	}
	if !found {
		t.Fatal("conformal of phantom metal missing from stack")
	}
	if nit.Metal != "poly" {
		t.Errorf("nit associated metal = %q, want %q", nit.Metal, "poly")
	}
	if !approx(nit.Bottom, 0.32) || !approx(nit.Top, 0.37) || !approx(nit.TopMetal, 0.37) {
		t.Errorf("nit heights = (%g, %g, %g), want (0.32, 0.37, 0.37)", nit.Bottom, nit.Top, nit.TopMetal)
	}
	if nit.Offset != 0 {
		t.Errorf("phantom conformal offset = %g, want 0", nit.Offset)
	}
	if air := got[0]; !approx(air.Bottom, 0.37) || air.Offset != 0 {
		t.Errorf("air record = %+v, want bottom 0.37 and offset 0", air)
	}
}

func TestResolveSidewallChain(t *testing.T) {
	got, err := Resolve(beolStack(t), "subs", []string{"poly"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	byName := make(map[string]Resolved, len(got))
	for _, rec := range got {
		byName[rec.Name] = rec
	}

	p, ok := byName["poly"]
	if !ok {
		t.Fatal("poly conductor missing")
	}
	if !approx(p.Top, 0.3262+0.18) {
		t.Errorf("poly top = %g, want %g", p.Top, 0.3262+0.18)
	}

	iox, ok := byName["iox"]
	if !ok {
		t.Fatal("inner sidewall missing")
	}
	if !approx(iox.Offset, 0.006) {
		t.Errorf("iox offset = %g, want 0.006", iox.Offset)
	}
	if !approx(iox.Bottom, 0.3262) || !approx(iox.Top, 0.3262) {
		t.Errorf("iox field heights = (%g, %g), want zero span at 0.3262", iox.Bottom, iox.Top)
	}
	if !approx(iox.TopMetal, 0.3262+0.18+0.006) {
		t.Errorf("iox top over metal = %g, want %g", iox.TopMetal, 0.3262+0.18+0.006)
	}

	sp, ok := byName["spnit"]
	if !ok {
		t.Fatal("chained sidewall missing")
	}
	if !approx(sp.Offset, 0.006+0.0431) {
		t.Errorf("spnit offset = %g, want %g", sp.Offset, 0.006+0.0431)
	}
	if !approx(sp.TopMetal, 0.3262+0.18+0.006+0.0431) {
		t.Errorf("spnit top over metal = %g, want %g", sp.TopMetal, 0.3262+0.18+0.006+0.0431)
	}
	if sp.Metal != "poly" {
		t.Errorf("spnit associated metal = %q, want %q", sp.Metal, "poly")
	}
}

func TestResolveMetalReference(t *testing.T) {
	// Resolving with li as the reference conductor moves the ground plane
	// to the top of li and applies its conformal as a flat film first,
	// since the reference conductor is present by construction.
	got, err := Resolve(beolStack(t), "li", []string{"m1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ground := got.Reference()
	if ground.Kind != KindGroundPlane || ground.Name != "li" {
		t.Fatalf("bottom record = %s/%s, want li ground plane", ground.Name, ground.Kind)
	}
	liTop := 0.9361 + 0.1
	if !approx(ground.Top, liTop) {
		t.Errorf("ground plane height = %g, want %g", ground.Top, liTop)
	}

	lint := got[len(got)-2]
	if lint.Name != "lint" {
		t.Fatalf("record above metal reference = %q, want its conformal", lint.Name)
	}
	if !approx(lint.Bottom, liTop) || !approx(lint.Top, liTop+0.075) || !approx(lint.TopMetal, liTop+0.075) {
		t.Errorf("lint heights = (%g, %g, %g), want flat film (%g, %g, %g)",
			lint.Bottom, lint.Top, lint.TopMetal, liTop, liTop+0.075, liTop+0.075)
	}

	// poly lies below the new ground plane and must not appear.
	for _, rec := range got {
		if rec.Name == "poly" || rec.Name == "iox" || rec.Name == "spnit" {
			t.Errorf("record %q below the reference plane leaked into the stack", rec.Name)
		}
	}

	idx, ok := got.TopConductor()
	if !ok || got[idx].Name != "m1" {
		t.Fatalf("TopConductor = %v/%v, want m1", idx, ok)
	}
}

func TestResolveBoundaryChaining(t *testing.T) {
	l := NewLayers()
	for _, e := range []struct {
		name string
		def  Layer
	}{
		{"subs", Diffusion{Height: 0, Above: "fox"}},
		{"fox", FieldOxide{Epsilon: 3.9}},
		{"etch1", Boundary{Height: 0.4, Epsilon: 4.1, Beneath: "fox"}},
		{"etch2", Boundary{Height: 0.7, Epsilon: 4.3, Beneath: "etch1"}},
		{"m1", Metal{Height: 1.0, Thickness: 0.3, Beneath: "ild", Above: "air"}},
		{"ild", Dielectric{Epsilon: 4.05, Beneath: "etch2"}},
		{"air", Dielectric{Epsilon: 1.0, Beneath: "ild"}},
	} {
		if err := l.Add(e.name, e.def); err != nil {
			t.Fatalf("Add(%q) failed: %v", e.name, err)
		}
	}

	got, err := Resolve(l, "subs", []string{"m1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Bottom-up: subs, etch1, etch2, ild, m1, air. Boundaries chain
	// contiguously below the metal's beneath-dielectric.
	names := make([]string, len(got))
	for i, rec := range got {
		names[i] = rec.Name
	}
	wantNames := []string{"air", "m1", "ild", "etch2", "etch1", "subs"}
	if !reflect.DeepEqual(names, wantNames) {
		t.Fatalf("record order = %v, want %v", names, wantNames)
	}

	e1, e2, ild := got[4], got[3], got[2]
	if !approx(e1.Bottom, 0) || !approx(e1.Top, 0.4) {
		t.Errorf("etch1 span = (%g, %g), want (0, 0.4)", e1.Bottom, e1.Top)
	}
	if !approx(e2.Bottom, 0.4) || !approx(e2.Top, 0.7) {
		t.Errorf("etch2 span = (%g, %g), want (0.4, 0.7)", e2.Bottom, e2.Top)
	}
	if !approx(ild.Bottom, 0.7) || !approx(ild.Top, 1.0) {
		t.Errorf("ild span = (%g, %g), want (0.7, 1.0)", ild.Bottom, ild.Top)
	}
}

func TestResolveTrailingBoundary(t *testing.T) {
	// A boundary declared above the topmost metal still caps the stack at
	// its fixed height; it must not vanish just because no rung follows it.
	l := NewLayers()
	for _, e := range []struct {
		name string
		def  Layer
	}{
		{"subs", Diffusion{Height: 0, Above: "fox"}},
		{"fox", FieldOxide{Epsilon: 3.9}},
		{"m1", Metal{Height: 0.5, Thickness: 0.2, Beneath: "fox", Above: "pass"}},
		{"pass", Boundary{Height: 1.5, Epsilon: 6.5, Beneath: "fox"}},
	} {
		if err := l.Add(e.name, e.def); err != nil {
			t.Fatalf("Add(%q) failed: %v", e.name, err)
		}
	}

	got, err := Resolve(l, "subs", []string{"m1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got[0].Name != "air" || !math.IsInf(got[0].Top, 1) {
		t.Fatalf("top record = %+v, want air sentinel", got[0])
	}
	pass := got[1]
	if pass.Name != "pass" || pass.Kind != KindDielectric {
		t.Fatalf("record below air = %s/%s, want trailing boundary", pass.Name, pass.Kind)
	}
	// Bottom is the open-field height beside the wire, per the record
	// contract: the wire top at 0.7 only matters inside its own strip.
	if !approx(pass.Bottom, 0.5) || !approx(pass.Top, 1.5) || !approx(pass.TopMetal, 1.5) {
		t.Errorf("pass span = (%g, %g, %g), want (0.5, 1.5, 1.5)", pass.Bottom, pass.Top, pass.TopMetal)
	}
	if !approx(pass.Epsilon, 6.5) {
		t.Errorf("pass epsilon = %g, want 6.5", pass.Epsilon)
	}
	if !approx(got[0].Bottom, 1.5) {
		t.Errorf("air bottom = %g, want 1.5", got[0].Bottom)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		active    []string
		want      error
	}{
		{name: "unknown reference", reference: "m9", active: nil, want: ErrUnknownLayer},
		{name: "dielectric reference", reference: "fox", active: nil, want: ErrBadReference},
		{name: "conformal reference", reference: "nit", active: nil, want: ErrBadReference},
		{name: "unknown active", reference: "subs", active: []string{"m9"}, want: ErrUnknownLayer},
		{name: "non-metal active", reference: "subs", active: []string{"fox"}, want: ErrNotMetal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(polyStack(t), tt.reference, tt.active)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Resolve error = %v, want %v", err, tt.want)
			}
			var cfg *ConfigError
			if !errors.As(err, &cfg) {
				t.Fatalf("error %v is not a ConfigError", err)
			}
		})
	}
}

func TestResolveConductorBeneath(t *testing.T) {
	// A metal whose "beneath" names another conductor is a description
	// defect, not something to paper over with a default epsilon.
	l := NewLayers()
	for _, e := range []struct {
		name string
		def  Layer
	}{
		{"subs", Diffusion{Height: 0, Above: "fox"}},
		{"fox", FieldOxide{Epsilon: 3.9}},
		{"m1", Metal{Height: 0.5, Thickness: 0.2, Beneath: "fox", Above: "air"}},
		{"m2", Metal{Height: 1.0, Thickness: 0.2, Beneath: "m1", Above: "air"}},
		{"air", Dielectric{Epsilon: 1.0, Beneath: "fox"}},
	} {
		if err := l.Add(e.name, e.def); err != nil {
			t.Fatalf("Add(%q) failed: %v", e.name, err)
		}
	}
	_, err := Resolve(l, "subs", []string{"m1", "m2"})
	if !errors.Is(err, ErrNotDielectric) {
		t.Fatalf("Resolve error = %v, want %v", err, ErrNotDielectric)
	}
}

func TestResolveMonotonic(t *testing.T) {
	for _, active := range [][]string{
		nil,
		{"poly"},
		{"li"},
		{"poly", "li", "m1", "m2"},
	} {
		got, err := Resolve(beolStack(t), "subs", active)
		if err != nil {
			t.Fatalf("Resolve(active=%v) failed: %v", active, err)
		}
		// Bottom-up, heights never decrease and every record is well formed.
		for i := len(got) - 1; i > 0; i-- {
			lower, upper := got[i], got[i-1]
			if upper.Bottom < lower.Bottom-heightTol {
				t.Errorf("active=%v: %q bottom %g below %q bottom %g",
					active, upper.Name, upper.Bottom, lower.Name, lower.Bottom)
			}
		}
		for _, rec := range got {
			if rec.Top < rec.Bottom-heightTol || rec.TopMetal < rec.Top-heightTol {
				t.Errorf("active=%v: record %q has inverted heights %+v", active, rec.Name, rec)
			}
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	a, err := Resolve(beolStack(t), "subs", []string{"poly", "m1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := Resolve(beolStack(t), "subs", []string{"poly", "m1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical inputs produced different stacks")
	}
}

func TestResolveTerminates(t *testing.T) {
	got, err := Resolve(beolStack(t), "subs", []string{"m2"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	air := got[0]
	if air.Name != "air" || !math.IsInf(air.Top, 1) || !approx(air.Epsilon, 1.0) {
		t.Fatalf("top record = %+v, want unbounded air sentinel", air)
	}
	if bottom := got.Reference(); bottom.Kind != KindGroundPlane {
		t.Fatalf("bottom record = %+v, want ground plane", bottom)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindGroundPlane, "ground"},
		{KindDielectric, "dielectric"},
		{KindConductor, "conductor"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
