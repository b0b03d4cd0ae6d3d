// Package cache stores field-solver results so repeated characterization
// runs skip the expensive solves. Backends cover local CLI usage (files),
// shared runs across machines (Redis), and disabled caching (null).
//
// Keys are content-addressed: a solve is identified by the exact geometry
// it was run on, the tolerance it ran at, and the tool it ran under, so a
// change to any of them is automatically a miss.
package cache

import (
	"context"
	"time"
)

// Default TTLs per entry class. Solver results are content-addressed, so
// they never go stale; the TTL only bounds how long a dead entry can
// occupy disk.
const (
	TTLSolve   = 90 * 24 * time.Hour
	TTLExtract = 90 * 24 * time.Hour
)

// Cache stores opaque byte values under string keys with an optional TTL.
// A zero TTL means the entry never expires.
type Cache interface {
	// Get retrieves a value. The second return reports whether the key
	// was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Keyer derives cache keys for the cacheable operations.
type Keyer interface {
	// SolveKey identifies one field-solver run: the full problem
	// geometry, the starting tolerance, and the tool identity.
	SolveKey(geometry []byte, tolerance float64, tool string) string

	// ExtractKey identifies one layout-extraction run.
	ExtractKey(script []byte, tool string) string
}

// DefaultKeyer is the standard content-addressed keyer.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the standard keyer.
func NewDefaultKeyer() Keyer {
	return &DefaultKeyer{}
}

// SolveKey generates a key for field-solver result caching.
func (k *DefaultKeyer) SolveKey(geometry []byte, tolerance float64, tool string) string {
	return hashKey("solve", Hash(geometry), tolerance, tool)
}

// ExtractKey generates a key for layout-extraction result caching.
func (k *DefaultKeyer) ExtractKey(script []byte, tool string) string {
	return hashKey("extract", Hash(script), tool)
}
