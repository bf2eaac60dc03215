// Package fsresource implements file system resources for the incr engine.
//
// A file is keyed by its cleaned absolute path under the "file" type:
//
//	key := fsresource.Key("src/a.txt") // file:/abs/path/src/a.txt
//
// Files implement resource.Readable and resource.Deletable, so every stock
// resource stamper works with them and garbage collection can remove files
// provided by deleted tasks. Watcher turns file system events into the
// changed-key batches that drive bottom-up builds.
package fsresource

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/incr/internal/resource"
)

// Type is the resource type of files.
const Type = "file"

// Key returns the resource key of the file at path. Relative paths are
// resolved against the working directory.
func Key(path string) resource.Key {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return resource.NewKey(Type, abs)
}

// File is a file system resource.
type File struct {
	path string
}

// NewFile returns the file resource for path.
func NewFile(path string) *File {
	return &File{path: Key(path).ID}
}

// Key implements resource.Resource.
func (f *File) Key() resource.Key {
	return resource.NewKey(Type, f.path)
}

// Path returns the absolute path of the file.
func (f *File) Path() string {
	return f.path
}

// Exists implements resource.Readable.
func (f *File) Exists() (bool, error) {
	_, err := os.Stat(f.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", f.path, err)
	}
}

// ModTime implements resource.Readable.
func (f *File) ModTime() (time.Time, error) {
	info, err := os.Stat(f.path)
	switch {
	case err == nil:
		return info.ModTime(), nil
	case errors.Is(err, fs.ErrNotExist):
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("stat %s: %w", f.path, err)
	}
}

// Open implements resource.Readable.
func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// ReadAll returns the content of the file.
func (f *File) ReadAll() ([]byte, error) {
	return os.ReadFile(f.path)
}

// WriteAll replaces the content of the file, creating parent directories
// as needed.
func (f *File) WriteAll(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Delete implements resource.Deletable. Deleting a missing file succeeds.
func (f *File) Delete() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", f.path, err)
	}
	return nil
}

// Resolver resolves "file" keys.
type Resolver struct{}

// NewResolver creates a file resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resource implements resource.Resolver.
func (r *Resolver) Resource(key resource.Key) (resource.Resource, error) {
	if key.Type != Type {
		return nil, fmt.Errorf("resolve %s: %w", key, resource.ErrUnknownType)
	}
	return &File{path: key.ID}, nil
}

// Register adds a file resolver to registry.
func Register(registry *resource.Registry) {
	registry.Register(Type, NewResolver())
}
