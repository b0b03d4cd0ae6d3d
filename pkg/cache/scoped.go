package cache

// ScopedKeyer wraps a Keyer with a prefix so several process corners or
// PDK variants can share one backend without key collisions.
//
// Example usage:
//
//	// Keys namespaced per process variant
//	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), "sky130A:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SolveKey generates a prefixed key for field-solver result caching.
func (k *ScopedKeyer) SolveKey(geometry []byte, tolerance float64, tool string) string {
	return k.prefix + k.inner.SolveKey(geometry, tolerance, tool)
}

// ExtractKey generates a prefixed key for layout-extraction caching.
func (k *ScopedKeyer) ExtractKey(script []byte, tool string) string {
	return k.prefix + k.inner.ExtractKey(script, tool)
}
