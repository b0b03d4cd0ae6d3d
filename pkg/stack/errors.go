package stack

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyLayerName is returned by [Layers.Add] when the layer name is
	// empty. Every layer must have a non-empty, unique name.
	ErrEmptyLayerName = errors.New("layer name must not be empty")

	// ErrDuplicateLayer is returned by [Layers.Add] when a layer with the
	// same name was already declared.
	ErrDuplicateLayer = errors.New("duplicate layer name")

	// ErrUnknownLayer is the category of a [ConfigError] for a reference
	// to a layer name that does not exist in the description.
	ErrUnknownLayer = errors.New("reference to undefined layer")

	// ErrBadReference is the category of a [ConfigError] when the chosen
	// reference conductor is neither a diffusion nor a metal layer.
	ErrBadReference = errors.New("reference conductor must be a diffusion or metal layer")

	// ErrNotMetal is the category of a [ConfigError] when a name in the
	// active set does not denote a metal layer.
	ErrNotMetal = errors.New("active layer is not a metal")

	// ErrNotDielectric is the category of a [ConfigError] when a layer
	// referenced as a dielectric has no dielectric constant (for example a
	// metal named in another metal's "beneath" field).
	ErrNotDielectric = errors.New("referenced layer is not a dielectric")
)

// ConfigError reports a defect in a process-stack description or in the
// resolution parameters: an unresolvable name, a misused layer type, or an
// invalid reference conductor. These are deterministic data errors; they
// are never retried and never defaulted silently, because a structurally
// incomplete stack would misrepresent the device physics downstream.
type ConfigError struct {
	Layer string // layer (or selection parameter) being processed
	Ref   string // name that failed to resolve, if any
	Err   error  // sentinel category
}

// Error identifies both the offending layer and the failing reference.
func (e *ConfigError) Error() string {
	if e.Ref != "" && e.Ref != e.Layer {
		return fmt.Sprintf("layer %q: %s: %q", e.Layer, e.Err, e.Ref)
	}
	return fmt.Sprintf("layer %q: %s", e.Layer, e.Err)
}

// Unwrap returns the sentinel category for errors.Is.
func (e *ConfigError) Unwrap() error { return e.Err }
