package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/roach88/incr/internal/ir"
)

// Record is the persisted form of one task.
type Record struct {
	Data     ir.TaskData
	Internal any
	Deferred bool
}

// Entry pairs a task key with its record.
type Entry struct {
	Key    ir.TaskKey
	Record Record
}

// Changeset is the set of changes between two syncs.
//
// A persister applies it in order: when Drop is set, clear everything;
// then write Upserts; then remove Deletes. Upserts and Deletes are sorted
// by key and never share a key.
type Changeset struct {
	Drop    bool
	Upserts []Entry
	Deletes []ir.TaskKey
}

// IsEmpty reports whether applying the changeset would change nothing.
func (c Changeset) IsEmpty() bool {
	return !c.Drop && len(c.Upserts) == 0 && len(c.Deletes) == 0
}

// Snapshot is the persisted state loaded at startup.
type Snapshot struct {
	Records map[ir.TaskKey]Record
}

// Persister stores records outside the process.
type Persister interface {
	// Load returns every persisted record. A persister with no data, or with
	// data of another ir.FormatVersion, returns an empty snapshot.
	Load(ctx context.Context) (Snapshot, error)

	// Save applies a changeset atomically.
	Save(ctx context.Context, changes Changeset) error

	Close() error
}

// Codec encodes records for persisters.
type Codec interface {
	Encode(r Record) ([]byte, error)
	Decode(data []byte) (Record, error)
}

// ErrCorruptRecord is returned when a persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

// GobCodec encodes records with encoding/gob.
//
// Task inputs, outputs, internal objects and stamps are stored as interface
// values, so every concrete type must be registered with gob.Register. The
// stock stampers register themselves; task libraries register their own
// input and output types.
type GobCodec struct{}

// Encode implements Codec.
func (GobCodec) Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&r); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (GobCodec) Decode(data []byte) (Record, error) {
	var r Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w: %w", ErrCorruptRecord, err)
	}
	return r, nil
}
