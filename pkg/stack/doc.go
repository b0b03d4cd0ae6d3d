// Package stack resolves sparse process-stack descriptions into ordered
// vertical cross-sections for parasitic capacitance characterization.
//
// A fabrication back-end-of-line (BEOL) stack is described declaratively:
// substrates and wells, planar and conformal dielectrics, sidewall spacers,
// and metal layers, each referring to its neighbors by name. The geometry of
// a dielectric is conditional on which metals are physically drawn nearby: a
// conformal dielectric wraps a drawn conductor but degenerates to a flat
// film over open field, and a sidewall spacer exists only beside a drawn
// conductor's edge.
//
// Resolve flattens that conditional description for one chosen reference
// conductor and one set of drawn ("active") metals into a contiguous,
// height-ordered list of records that downstream geometry emitters consume
// directly.
//
// # Usage
//
//	layers := stack.NewLayers()
//	_ = layers.Add("subs", stack.Diffusion{Height: 0, Above: "fox"})
//	_ = layers.Add("fox", stack.FieldOxide{Epsilon: 3.9})
//	_ = layers.Add("m1", stack.Metal{Height: 1.37, Thickness: 0.36, Beneath: "fox", Above: "air"})
//	_ = layers.Add("air", stack.Dielectric{Epsilon: 1.0, Beneath: "fox"})
//
//	s, err := stack.Resolve(layers, "subs", []string{"m1"})
//
// Resolve is a pure function over immutable inputs: it holds no shared
// state and is safe to call concurrently from any number of goroutines.
package stack
