package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/workspace"
)

// fakeRunner records commands and optionally creates the artifact.
type fakeRunner struct {
	calls    []Command
	artifact string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, c Command) error {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return f.err
	}
	if f.artifact != "" {
		if err := os.MkdirAll(filepath.Dir(f.artifact), 0755); err != nil {
			return err
		}
		return os.WriteFile(f.artifact, []byte("\x00asm"), 0644)
	}
	return nil
}

func testWorkspace(out string) workspace.Workspace {
	dir := filepath.Join(out, "ws")
	return workspace.Workspace{
		Dir:        dir,
		SrcDir:     filepath.Join(dir, "src"),
		Descriptor: filepath.Join(dir, "Cargo.toml"),
		Tasks:      []string{"greet"},
	}
}

func TestCargo_CommandAndArtifact(t *testing.T) {
	out := t.TempDir()
	var sink bytes.Buffer
	fr := &fakeRunner{artifact: filepath.Join(out, "target", "wasm32-wasip1", "release", "greet.wasm")}
	c := NewCargo(Options{OutputRoot: out, Toolchain: "nightly", Output: &sink, Runner: fr, Logger: logging.Discard()})
	ws := testWorkspace(out)

	artifact, err := c.Compile(context.Background(), ws, model.TaskDefinition{Name: "greet"})
	require.NoError(t, err)
	assert.Equal(t, fr.artifact, artifact)

	require.Len(t, fr.calls, 1)
	cmd := fr.calls[0]
	assert.Equal(t, "cargo", cmd.Name)
	assert.Equal(t, []string{
		"+nightly", "build",
		"--manifest-path", ws.Descriptor,
		"--bin", "greet",
		"--target", "wasm32-wasip1",
		"--release",
		"--target-dir", filepath.Join(out, "target"),
	}, cmd.Args)
	assert.Same(t, &sink, cmd.Stdout)
	assert.Same(t, &sink, cmd.Stderr)
}

func TestCargo_NoToolchainOverride(t *testing.T) {
	out := t.TempDir()
	c := NewCargo(Options{OutputRoot: out})
	cmd := c.Command(testWorkspace(out), model.TaskDefinition{Name: "greet"})
	assert.Equal(t, "build", cmd.Args[0])
	assert.Equal(t, os.Stderr, cmd.Stdout)
}

func TestCargo_ExitErrorPropagates(t *testing.T) {
	out := t.TempDir()
	fr := &fakeRunner{err: &ExitError{Tool: "cargo", Code: 101}}
	c := NewCargo(Options{OutputRoot: out, Runner: fr})

	_, err := c.Compile(context.Background(), testWorkspace(out), model.TaskDefinition{Name: "greet"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 101, exitErr.Code)
	assert.Equal(t, "cargo exited with status 101", err.Error())
}

func TestCargo_MissingArtifact(t *testing.T) {
	out := t.TempDir()
	c := NewCargo(Options{OutputRoot: out, Runner: &fakeRunner{}})

	_, err := c.Compile(context.Background(), testWorkspace(out), model.TaskDefinition{Name: "greet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiled module missing")
}

func TestRustc_CommandWarnsOnDependencies(t *testing.T) {
	out := t.TempDir()
	var logs bytes.Buffer
	fr := &fakeRunner{artifact: filepath.Join(out, "greet.wasm")}
	r := NewRustc(Options{OutputRoot: out, Runner: fr, Logger: logging.New(&logs, logging.LevelInfo)})
	ws := testWorkspace(out)
	ws.Dependencies = map[string]string{"anyhow": "1"}

	artifact, err := r.Compile(context.Background(), ws, model.TaskDefinition{Name: "greet"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "greet.wasm"), artifact)

	require.Len(t, fr.calls, 1)
	assert.Equal(t, "rustc", fr.calls[0].Name)
	assert.Equal(t, []string{
		"--target", "wasm32-wasip1",
		"-Ccodegen-units=1",
		filepath.Join(ws.Dir, "src", "greet.rs"),
		"-o", filepath.Join(out, "greet.wasm"),
	}, fr.calls[0].Args)
	assert.Contains(t, logs.String(), "WARN compiler: rustc ignores task-dependencies")
}

func TestNew(t *testing.T) {
	c, err := New("", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Cargo{}, c)

	c, err = New("rustc", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Rustc{}, c)

	_, err = New("gcc", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gcc"`)
}

func TestExitError_NotConfusedWithOtherErrors(t *testing.T) {
	var exitErr *ExitError
	assert.False(t, errors.As(errors.New("boom"), &exitErr))
}
