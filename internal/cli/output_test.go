package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	called := false
	err := formatter.Success(map[string]string{"result": "success"}, func(io.Writer) { called = true })
	require.NoError(t, err)
	assert.False(t, called, "text renderer must not run in json mode")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"result": "success"}, resp.Data)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plain", nil))
	require.NoError(t, formatter.Success(42, func(w io.Writer) { fmt.Fprintln(w, "rendered") }))
	assert.Equal(t, "plain\nrendered\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"task": "pipeline.read:src/a.txt"}
	require.NoError(t, formatter.Error(CodeBuild, "build failed", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeBuild, resp.Error.Code)
	assert.Equal(t, "build failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error(CodeConfig, "bad config", "line 3"))
	assert.Empty(t, out.String())
	assert.Equal(t, "Error [E001]: bad config\nDetails: line 3\n", errOut.String())
}

func TestOutputFormatter_TextErrorQuiet(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(CodeConfig, "bad config", "line 3"))
	assert.Equal(t, "Error [E001]: bad config\n", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	exitErr := NewExitError(ExitFailure, "build failed")

	text := &bytes.Buffer{}
	err := (&OutputFormatter{Format: "text", Writer: text}).Fail(CodeBuild, exitErr, nil)
	assert.Same(t, exitErr, err)
	assert.Empty(t, text.String())

	js := &bytes.Buffer{}
	err = (&OutputFormatter{Format: "json", Writer: js}).Fail(CodeBuild, exitErr, nil)
	assert.Same(t, exitErr, err)
	assert.Contains(t, js.String(), `"code":"E003"`)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: tt.verbose}

			formatter.VerboseLog("deleted %s", "pipeline.concat:x")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Equal(t, "deleted pipeline.concat:x\n", errOut.String())
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		msg  string
		code int
	}{
		{"plain", NewExitError(ExitCommandError, "bad"), "bad", ExitCommandError},
		{"wrapped", WrapExitError(ExitFailure, "build failed", cause), "build failed: disk full", ExitFailure},
		{"nested", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "inner")), "outer: inner", ExitCommandError},
		{"foreign", cause, "disk full", ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.Equal(t, tt.code, GetExitCode(tt.err))
		})
	}

	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.ErrorIs(t, WrapExitError(ExitFailure, "x", cause), cause)
}
