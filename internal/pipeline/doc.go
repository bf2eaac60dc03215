// Package pipeline is a file concatenation task library for the incr
// engine, configured by an incr.yaml file:
//
//	store: {backend: sqlite, path: .incr/store.db}
//	targets:
//	  - name: bundle
//	    output: out/bundle.txt
//	    inputs: [src/a.txt, out/lib.txt]
//	  - name: lib
//	    output: out/lib.txt
//	    inputs: [src/l.txt]
//	    tags: [release]
//
// Three task definitions make up a build. pipeline.read reads one file,
// first building the target that writes it if there is one.
// pipeline.concat reads the inputs of a target and writes its output.
// pipeline.build requires every target and is the root a build observes.
//
// Tagged targets are deferred by update passes until a pass runs with one
// of their tags active.
package pipeline
