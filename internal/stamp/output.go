// Package stamp provides the stock output and resource stampers.
//
// Output stampers snapshot a task output so callers can tell whether the
// output they depend on changed:
//   - Equals: the output itself, compared structurally
//   - Inconsequential: never changes (the caller only needs the callee to run)
//   - OutputHash: canonical JSON digest of the output
//
// Resource stampers snapshot a resource.Readable:
//   - Exists: presence only
//   - Modified: presence and modification time
//   - ResourceHash: content digest
//
// Every stamp type is registered with encoding/gob in init so stamps survive
// a persisted store. Outputs stamped with Equals must themselves be
// gob-registered by the task library that produces them.
package stamp

import (
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/roach88/incr/internal/ir"
)

func init() {
	gob.Register(EqualsStamp{})
	gob.Register(InconsequentialStamp{})
	gob.Register(HashStamp{})
	gob.Register(ExistsStamp{})
	gob.Register(ModifiedStamp{})
	gob.Register(ResourceHashStamp{})
}

var (
	// Equals stamps an output with a copy of the output.
	Equals ir.OutputStamper = EqualsStamper{}

	// Inconsequential stamps every output with the same stamp.
	Inconsequential ir.OutputStamper = InconsequentialStamper{}

	// OutputHash stamps an output with its canonical JSON digest.
	OutputHash ir.OutputStamper = HashStamper{}
)

// EqualsStamper implements Equals.
type EqualsStamper struct{}

// Stamp implements ir.OutputStamper.
func (EqualsStamper) Stamp(output any) (ir.OutputStamp, error) {
	return EqualsStamp{Value: output}, nil
}

// EqualsStamp holds the stamped output.
type EqualsStamp struct {
	Value any
}

// Stamper implements ir.OutputStamp.
func (EqualsStamp) Stamper() ir.OutputStamper { return Equals }

// Equal implements ir.OutputStamp.
func (s EqualsStamp) Equal(other ir.OutputStamp) bool {
	o, ok := other.(EqualsStamp)
	return ok && reflect.DeepEqual(s.Value, o.Value)
}

// InconsequentialStamper implements Inconsequential.
type InconsequentialStamper struct{}

// Stamp implements ir.OutputStamper.
func (InconsequentialStamper) Stamp(any) (ir.OutputStamp, error) {
	return InconsequentialStamp{}, nil
}

// InconsequentialStamp is equal to every other InconsequentialStamp.
type InconsequentialStamp struct{}

// Stamper implements ir.OutputStamp.
func (InconsequentialStamp) Stamper() ir.OutputStamper { return Inconsequential }

// Equal implements ir.OutputStamp.
func (InconsequentialStamp) Equal(other ir.OutputStamp) bool {
	_, ok := other.(InconsequentialStamp)
	return ok
}

// HashStamper implements OutputHash.
type HashStamper struct{}

// Stamp implements ir.OutputStamper. Outputs that cannot be encoded as JSON
// return an error.
func (HashStamper) Stamp(output any) (ir.OutputStamp, error) {
	digest, err := ir.Digest(ir.DomainOutput, output)
	if err != nil {
		return nil, fmt.Errorf("hash stamp: %w", err)
	}
	return HashStamp{Digest: digest}, nil
}

// HashStamp holds the digest of an output.
type HashStamp struct {
	Digest string
}

// Stamper implements ir.OutputStamp.
func (HashStamp) Stamper() ir.OutputStamper { return OutputHash }

// Equal implements ir.OutputStamp.
func (s HashStamp) Equal(other ir.OutputStamp) bool {
	o, ok := other.(HashStamp)
	return ok && s.Digest == o.Digest
}
