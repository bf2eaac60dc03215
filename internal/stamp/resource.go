package stamp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// ErrNotReadable is returned when a resource stamper is given a resource
// that does not implement resource.Readable.
var ErrNotReadable = errors.New("resource is not readable")

var (
	// Exists stamps whether a resource exists.
	Exists ir.ResourceStamper = ExistsStamper{}

	// Modified stamps whether a resource exists and when it last changed.
	Modified ir.ResourceStamper = ModifiedStamper{}

	// ResourceHash stamps the content digest of a resource.
	ResourceHash ir.ResourceStamper = HashResourceStamper{}
)

func readable(r resource.Resource) (resource.Readable, error) {
	rd, ok := r.(resource.Readable)
	if !ok {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), ErrNotReadable)
	}
	return rd, nil
}

// ExistsStamper implements Exists.
type ExistsStamper struct{}

// Stamp implements ir.ResourceStamper.
func (ExistsStamper) Stamp(r resource.Resource) (ir.ResourceStamp, error) {
	rd, err := readable(r)
	if err != nil {
		return nil, err
	}
	exists, err := rd.Exists()
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), err)
	}
	return ExistsStamp{Exists: exists}, nil
}

// ExistsStamp records presence.
type ExistsStamp struct {
	Exists bool
}

// Stamper implements ir.ResourceStamp.
func (ExistsStamp) Stamper() ir.ResourceStamper { return Exists }

// Equal implements ir.ResourceStamp.
func (s ExistsStamp) Equal(other ir.ResourceStamp) bool {
	o, ok := other.(ExistsStamp)
	return ok && s == o
}

// ModifiedStamper implements Modified.
type ModifiedStamper struct{}

// Stamp implements ir.ResourceStamper.
func (ModifiedStamper) Stamp(r resource.Resource) (ir.ResourceStamp, error) {
	rd, err := readable(r)
	if err != nil {
		return nil, err
	}
	exists, err := rd.Exists()
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), err)
	}
	if !exists {
		return ModifiedStamp{}, nil
	}
	mod, err := rd.ModTime()
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), err)
	}
	return ModifiedStamp{Exists: true, ModTime: mod.UTC()}, nil
}

// ModifiedStamp records presence and modification time.
type ModifiedStamp struct {
	Exists  bool
	ModTime time.Time
}

// Stamper implements ir.ResourceStamp.
func (ModifiedStamp) Stamper() ir.ResourceStamper { return Modified }

// Equal implements ir.ResourceStamp.
func (s ModifiedStamp) Equal(other ir.ResourceStamp) bool {
	o, ok := other.(ModifiedStamp)
	return ok && s.Exists == o.Exists && s.ModTime.Equal(o.ModTime)
}

// HashResourceStamper implements ResourceHash.
type HashResourceStamper struct{}

// Stamp implements ir.ResourceStamper. The content is streamed, so large
// files are never held in memory.
func (HashResourceStamper) Stamp(r resource.Resource) (ir.ResourceStamp, error) {
	rd, err := readable(r)
	if err != nil {
		return nil, err
	}
	exists, err := rd.Exists()
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), err)
	}
	if !exists {
		return ResourceHashStamp{}, nil
	}

	f, err := rd.Open()
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", r.Key(), err)
	}
	defer f.Close()

	h := ir.NewDomainHash(ir.DomainResource)
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("stamp %s: read: %w", r.Key(), err)
	}
	return ResourceHashStamp{Exists: true, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// ResourceHashStamp records presence and content digest.
type ResourceHashStamp struct {
	Exists bool
	Digest string
}

// Stamper implements ir.ResourceStamp.
func (ResourceHashStamp) Stamper() ir.ResourceStamper { return ResourceHash }

// Equal implements ir.ResourceStamp.
func (s ResourceHashStamp) Equal(other ir.ResourceStamp) bool {
	o, ok := other.(ResourceHashStamp)
	return ok && s == o
}
