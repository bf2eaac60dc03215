// Package resource defines the resources tasks depend on.
//
// A resource is anything outside the task graph whose state a task reads
// (a require) or writes (a provide): files, directories, URLs. The engine
// only ever resolves a resource from its Key and hands it to a stamper, so
// this package is deliberately small. Concrete resource kinds live in
// sub-packages (see fsresource).
package resource

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Key identifies a resource. Type selects the resolver, ID is unique within
// that type (for files: the cleaned absolute path).
type Key struct {
	Type string
	ID   string
}

// NewKey creates a resource key.
func NewKey(typ, id string) Key {
	return Key{Type: typ, ID: id}
}

// String returns "type:id".
func (k Key) String() string {
	return k.Type + ":" + k.ID
}

// Compare orders keys by type, then ID.
func Compare(a, b Key) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortKeys sorts keys in place using Compare.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return Compare(keys[i], keys[j]) < 0 })
}

// Resource is a resolved resource.
type Resource interface {
	Key() Key
}

// Readable is implemented by resources with byte content, such as files.
// Stampers that look at existence, modification time or content require it.
type Readable interface {
	Resource

	// Exists reports whether the resource currently exists.
	Exists() (bool, error)

	// ModTime returns the last modification time. Returns the zero time and
	// no error when the resource does not exist.
	ModTime() (time.Time, error)

	// Open opens the resource for reading. Callers must close the reader.
	Open() (io.ReadCloser, error)
}

// Deletable is implemented by resources that can be removed, which lets
// garbage collection delete what an unobserved task provided.
type Deletable interface {
	Resource
	Delete() error
}

// Resolver resolves keys to resources.
type Resolver interface {
	Resource(key Key) (Resource, error)
}

// ErrUnknownType is returned by Registry when no resolver is registered for
// a key's type.
var ErrUnknownType = errors.New("unknown resource type")

// Registry dispatches resolution to a resolver per key type.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register sets the resolver for a key type, replacing any previous one.
func (r *Registry) Register(typ string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[typ] = resolver
}

// Resource implements Resolver.
func (r *Registry) Resource(key Key) (Resource, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[key.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", key, ErrUnknownType)
	}
	return resolver.Resource(key)
}
