package ir

// TransientOutput is implemented by outputs that can lose their value when
// the store is persisted and reloaded. A task whose stored output reports
// Consistent() == false is executed again even if all its dependencies are
// unchanged.
type TransientOutput interface {
	Consistent() bool
}

// Transient wraps a value that only lives in memory, such as an open handle
// or a large in-memory index. Its gob encoding is empty, so after a reload
// the wrapper is present but its value is not.
//
// Users that persist the store must gob.Register the instantiated type.
type Transient[T any] struct {
	value   T
	present bool
}

// NewTransient wraps v.
func NewTransient[T any](v T) Transient[T] {
	return Transient[T]{value: v, present: true}
}

// Value returns the wrapped value and whether it is still present.
func (t Transient[T]) Value() (T, bool) {
	return t.value, t.present
}

// Consistent implements TransientOutput.
func (t Transient[T]) Consistent() bool {
	return t.present
}

// GobEncode drops the value.
func (t Transient[T]) GobEncode() ([]byte, error) {
	return []byte{}, nil
}

// GobDecode yields an empty wrapper.
func (t *Transient[T]) GobDecode([]byte) error {
	*t = Transient[T]{}
	return nil
}
