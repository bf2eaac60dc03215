// Package ir defines the data model shared by the incr store and engine.
//
// The model is a graph of memoized tasks:
//   - TaskKey: identifies a task instance (definition ID + input-derived ID)
//   - TaskData: the stored state of one task (input, output, observability,
//     and the dependencies recorded during its last execution)
//   - TaskRequireDep: an edge to another task plus a stamp of its output
//   - ResourceRequireDep / ResourceProvideDep: an edge to a resource plus a
//     stamp of the resource
//
// Stamps are opaque snapshots used for change detection. A stamp remembers
// the stamper that produced it, so a consistency check is always
// "restamp the current value with the same stamper and compare".
//
// # Canonical Hashing
//
// Content digests (hash output stamps, structured task key IDs) use
// canonical JSON (RFC 8785 key ordering, NFC-normalized strings, no HTML
// escaping) hashed with SHA-256 and a domain prefix:
//
//	SHA256(domain + 0x00 + canonical-json)
//
// The domain prefix keeps digests of different kinds from colliding.
package ir
