package ir

// Observability is the liveness tag of a task.
//
// A task is ExplicitObserved when a caller required it as a root,
// ImplicitObserved when it is reachable from an observed task through
// task-require edges, and Unobserved otherwise. Bottom-up builds only
// schedule observed tasks; unobserved tasks may be garbage collected.
//
// The zero value is Unobserved, which is also what the store reports for a
// key it has no data for.
type Observability int

const (
	// Unobserved tasks are not kept up to date and may be deleted.
	Unobserved Observability = iota

	// ImplicitObserved tasks are required (transitively) by an observed task.
	ImplicitObserved

	// ExplicitObserved tasks were required directly as a root.
	ExplicitObserved
)

// String returns the name of the observability state.
func (o Observability) String() string {
	switch o {
	case Unobserved:
		return "unobserved"
	case ImplicitObserved:
		return "implicit-observed"
	case ExplicitObserved:
		return "explicit-observed"
	default:
		return "unknown"
	}
}

// IsObserved reports whether o is ImplicitObserved or ExplicitObserved.
func (o Observability) IsObserved() bool {
	return o == ImplicitObserved || o == ExplicitObserved
}

// IsUnobserved reports whether o is Unobserved.
func (o Observability) IsUnobserved() bool {
	return o == Unobserved
}
