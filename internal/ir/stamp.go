package ir

import "github.com/roach88/incr/internal/resource"

// OutputStamper produces a stamp from a task output. Stampers must be pure:
// the same output always yields an equal stamp.
type OutputStamper interface {
	Stamp(output any) (OutputStamp, error)
}

// OutputStamp is an opaque snapshot of a task output.
type OutputStamp interface {
	// Stamper returns the stamper that produced this stamp.
	Stamper() OutputStamper

	// Equal reports whether other represents the same output state.
	Equal(other OutputStamp) bool
}

// ResourceStamper produces a stamp from the current state of a resource.
type ResourceStamper interface {
	Stamp(r resource.Resource) (ResourceStamp, error)
}

// ResourceStamp is an opaque snapshot of a resource.
type ResourceStamp interface {
	// Stamper returns the stamper that produced this stamp.
	Stamper() ResourceStamper

	// Equal reports whether other represents the same resource state.
	Equal(other ResourceStamp) bool
}

// OutputStampsEqual compares two possibly-nil stamps.
func OutputStampsEqual(a, b OutputStamp) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// ResourceStampsEqual compares two possibly-nil stamps.
func ResourceStampsEqual(a, b ResourceStamp) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}
