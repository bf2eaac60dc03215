// Package engine implements the incr incremental build engine.
//
// A build is a graph of tasks. Each task is a TaskDef applied to an input;
// its body computes an output and, through its ExecContext, records what it
// depended on: other tasks (requires) and resources it read or wrote
// (resource requires and provides), each with a stamp of the state it saw.
// The store keeps these dependencies between sessions, and the engine uses
// them to re-execute only what changed.
//
// ARCHITECTURE:
//
// Top-down (Session.Require):
// Requiring a task validates its stored dependencies in order (input,
// transient output, resource requires, resource provides, task requires,
// recursively) and executes it on the first inconsistency. Cost grows with
// the size of the required graph.
//
// Bottom-up (Session.UpdateAffectedBy):
// Given changed resources, only the observed tasks whose stamps no longer
// hold are scheduled, then executed dependencies first; each execution
// schedules the callers and readers it makes inconsistent. Cost grows with
// the size of the change.
//
// Observability:
// Roots required through a session are explicitly observed, the tasks they
// reach are implicitly observed. Bottom-up passes only keep observed tasks
// up to date; Session.Unobserve drops a root and DeleteUnobservedTasks
// garbage-collects what nothing observes anymore.
//
// CRITICAL PATTERNS:
//
// Commit or rollback:
// A task's data is written only when its body succeeds and the validator
// accepts it. Failures, cancellation and panics restore the previous data.
//
// At most once per session:
// Every executed or validated task is recorded as visited; later requires
// in the same session reuse it without checking again.
//
// Single writer:
// Each session call holds one store write transaction from start to end.
package engine
