// Package harness runs conformance scenarios against the incr engine.
//
// A scenario sets up a project directory, declares pipeline targets and then
// runs a sequence of steps against one in-memory store. Every step runs in a
// fresh engine session, and the tasks it executes are recorded with a
// tracing.Recorder, so a scenario checks both what the engine computed and
// how much work it did.
//
// # Scenario Format
//
//	name: chained_update
//	description: "A changed source rebuilds only its target chain"
//	files:
//	  src/a.txt: "a\n"
//	  src/l.txt: "l\n"
//	targets:
//	  - {name: bundle, output: out/bundle.txt, inputs: [src/a.txt, out/lib.txt]}
//	  - {name: lib, output: out/lib.txt, inputs: [src/l.txt]}
//	steps:
//	  - action: build
//	  - action: write
//	    files: {src/l.txt: "L\n"}
//	  - action: update
//	    paths: [src/l.txt]
//	    expect_executed:
//	      - pipeline.read:src/l.txt
//	      - pipeline.concat:lib
//	      - pipeline.read:out/lib.txt
//	      - pipeline.concat:bundle
//	      - pipeline.build:all
//	    expect_files: {out/bundle.txt: "a\nL\n"}
//	assertions:
//	  - type: executed_count
//	    task: pipeline.read:src/a.txt
//	    count: 1
//
// # Steps
//
//   - build: top-down build of every target, or of Target when set
//   - write: write Files
//   - remove: remove Paths
//   - update: bottom-up pass over the changed Paths with Tags active
//   - configure: replace the targets, keeping the store
//   - gc: delete unobserved tasks, and their outputs with delete_outputs
//
// An empty expect_executed list asserts that nothing executed; leaving it
// out skips the check.
//
// # Golden Files
//
// RunWithGolden renders the executed tasks of every step as canonical JSON
// and compares it with testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
