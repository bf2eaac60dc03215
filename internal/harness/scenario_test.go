package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: valid
description: "A scenario using every step action"
files:
  src/a.txt: "a\n"
targets:
  - name: bundle
    output: out/bundle.txt
    inputs: [src/a.txt]
    tags: [release]
steps:
  - action: build
    expect_executed: [pipeline.build:all, pipeline.concat:bundle, pipeline.read:src/a.txt]
  - action: write
    files: {src/a.txt: "A\n"}
  - action: update
    paths: [src/a.txt]
    tags: [release]
    expect_files: {out/bundle.txt: "A\n"}
  - action: configure
    targets:
      - {name: other, output: out/other.txt, inputs: [src/a.txt]}
  - action: build
    target: other
    expect_executed: [pipeline.concat:other]
  - action: build
    expect_executed: [pipeline.build:all]
  - action: gc
    delete_outputs: true
  - action: remove
    paths: [src/a.txt]
  - action: build
    expect_error: "read src/a.txt"
assertions:
  - {type: executed_count, task: pipeline.read:src/a.txt, count: 3}
  - {type: executed_order, tasks: [pipeline.read:src/a.txt, pipeline.concat:other]}
  - {type: never_executed, task: pipeline.read:src/b.txt}
  - {type: file_content, path: out/other.txt, content: "A\n"}
  - {type: file_absent, path: out/bundle.txt}
  - {type: observability, task: pipeline.concat:bundle, state: unobserved}
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)

	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, map[string]string{"src/a.txt": "a\n"}, s.Files)
	require.Len(t, s.Targets, 1)
	assert.Equal(t, []string{"release"}, s.Targets[0].Tags)

	require.Len(t, s.Steps, 9)
	assert.Equal(t, []string{"pipeline.build:all", "pipeline.concat:bundle", "pipeline.read:src/a.txt"}, s.Steps[0].ExpectExecuted)
	assert.Nil(t, s.Steps[2].ExpectExecuted)
	assert.Equal(t, []string{"release"}, s.Steps[2].Tags)
	assert.Equal(t, "other", s.Steps[3].Targets[0].Name)
	assert.Equal(t, "other", s.Steps[4].Target)
	assert.True(t, s.Steps[6].DeleteOutputs)
	assert.Equal(t, "read src/a.txt", s.Steps[8].ExpectError)

	require.Len(t, s.Assertions, 6)
	assert.Equal(t, 3, s.Assertions[0].Count)
	assert.Equal(t, "unobserved", s.Assertions[5].State)
}

func TestParseScenario_EmptyExpectExecutedIsKept(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: empty
description: d
targets: [{name: t, output: out/t.txt, inputs: [src/t.txt]}]
steps:
  - action: build
    expect_executed: []
`))
	require.NoError(t, err)
	assert.NotNil(t, s.Steps[0].ExpectExecuted)
	assert.Empty(t, s.Steps[0].ExpectExecuted)
}

func TestParseScenario_Invalid(t *testing.T) {
	const head = "name: n\ndescription: d\ntargets: [{name: t, output: out/t.txt, inputs: [src/t.txt]}]\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed", "name: [", "failed to parse YAML"},
		{"unknown field", head + "steps: [{action: build, expect_exectued: []}]", "field expect_exectued not found"},
		{"no name", "description: d\ntargets: [{name: t}]\nsteps: [{action: build}]", "name is required"},
		{"no description", "name: n\ntargets: [{name: t}]\nsteps: [{action: build}]", "description is required"},
		{"no targets", "name: n\ndescription: d\nsteps: [{action: build}]", "targets list is required"},
		{"no steps", head, "steps list is required"},
		{"no action", head + "steps: [{target: t}]", "steps[0]: action is required"},
		{"unknown action", head + "steps: [{action: deploy}]", `steps[0]: unknown action "deploy"`},
		{"write without files", head + "steps: [{action: write}]", "files are required for write"},
		{"remove without paths", head + "steps: [{action: remove}]", "paths are required for remove"},
		{"bare update", head + "steps: [{action: update}]", "paths or tags are required for update"},
		{"configure without targets", head + "steps: [{action: configure}]", "targets are required for configure"},
		{"target on update", head + "steps: [{action: update, tags: [x], target: t}]", "target is only valid for build"},
		{"expect_executed on gc", head + "steps: [{action: gc, expect_executed: []}]", "expect_executed is not valid for gc"},
		{"assertion without type", head + "steps: [{action: build}]\nassertions: [{task: x}]", "assertions[0]: type is required"},
		{"unknown assertion", head + "steps: [{action: build}]\nassertions: [{type: fast}]", `unknown assertion type "fast"`},
		{"count without task", head + "steps: [{action: build}]\nassertions: [{type: executed_count}]", "task is required for executed_count"},
		{"negative count", head + "steps: [{action: build}]\nassertions: [{type: executed_count, task: x, count: -1}]", "count must be non-negative"},
		{"never without task", head + "steps: [{action: build}]\nassertions: [{type: never_executed}]", "task is required for never_executed"},
		{"short order", head + "steps: [{action: build}]\nassertions: [{type: executed_order, tasks: [x]}]", "at least two tasks"},
		{"content without path", head + "steps: [{action: build}]\nassertions: [{type: file_content}]", "path is required for file_content"},
		{"absent without path", head + "steps: [{action: build}]\nassertions: [{type: file_absent}]", "path is required for file_absent"},
		{"observability without task", head + "steps: [{action: build}]\nassertions: [{type: observability, state: unobserved}]", "task is required for observability"},
		{"bad state", head + "steps: [{action: build}]\nassertions: [{type: observability, task: x, state: watched}]", `unknown observability state "watched"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestValidScenario_Runs(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}
