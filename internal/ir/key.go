package ir

import (
	"slices"
	"strings"
)

// TaskKey identifies a task instance: the definition that executes it and an
// ID derived from its input.
//
// Keys are stable across sessions as long as the definition derives the same
// ID from the same input. TaskKey is comparable and is used directly as a map
// key by the store and the engine.
type TaskKey struct {
	DefID string
	ID    string
}

// NewTaskKey creates a task key.
func NewTaskKey(defID, id string) TaskKey {
	return TaskKey{DefID: defID, ID: id}
}

// String returns "def:id".
func (k TaskKey) String() string {
	return k.DefID + ":" + k.ID
}

// IsZero reports whether k is the zero key.
func (k TaskKey) IsZero() bool {
	return k.DefID == "" && k.ID == ""
}

// CompareTaskKeys orders keys by definition ID, then ID.
func CompareTaskKeys(a, b TaskKey) int {
	if c := strings.Compare(a.DefID, b.DefID); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortTaskKeys sorts keys in place. All store views return keys in this order.
func SortTaskKeys(keys []TaskKey) {
	slices.SortFunc(keys, CompareTaskKeys)
}
