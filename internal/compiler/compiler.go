// Package compiler turns a staged workspace into a WASI module with the host
// Rust toolchain.
package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/workspace"
)

// Compiler produces the module for one task and returns its path.
type Compiler interface {
	Compile(ctx context.Context, ws workspace.Workspace, def model.TaskDefinition) (string, error)
}

// ExitError is a tool that ran and exited non-zero.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

// Options are shared by every compiler.
type Options struct {
	Toolchain  string
	Target     string
	OutputRoot string

	// Output receives the tool's stdout and stderr. Defaults to os.Stderr
	// so build chatter never mixes with task output.
	Output io.Writer
	Runner CommandRunner
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Target == "" {
		o.Target = model.DefaultTarget
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	return o
}

// New returns the compiler named by kind.
func New(kind string, opts Options) (Compiler, error) {
	switch kind {
	case "", model.CompilerCargo:
		return NewCargo(opts), nil
	case model.CompilerRustc:
		return NewRustc(opts), nil
	default:
		return nil, fmt.Errorf("unknown compiler %q (want %s or %s)", kind, model.CompilerCargo, model.CompilerRustc)
	}
}

func toolchainArgs(toolchain string) []string {
	if toolchain == "" {
		return nil
	}
	return []string{"+" + toolchain}
}

func checkArtifact(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("compiled module missing: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("compiled module %s is a directory", path)
	}
	return path, nil
}

// Cargo builds the task as a [[bin]] of the workspace package, so
// task-dependencies are honoured.
type Cargo struct {
	opts Options
	log  *logging.Logger
}

func NewCargo(opts Options) *Cargo {
	opts = opts.withDefaults()
	return &Cargo{opts: opts, log: opts.Logger.Component("compiler")}
}

// TargetDir is where cargo keeps its build cache across workspace rebuilds.
func (c *Cargo) TargetDir() string {
	return filepath.Join(c.opts.OutputRoot, "target")
}

// ArtifactPath returns where cargo leaves the module for task.
func (c *Cargo) ArtifactPath(task string) string {
	return filepath.Join(c.TargetDir(), c.opts.Target, "release", task+".wasm")
}

func (c *Cargo) Command(ws workspace.Workspace, def model.TaskDefinition) Command {
	args := toolchainArgs(c.opts.Toolchain)
	args = append(args,
		"build",
		"--manifest-path", ws.Descriptor,
		"--bin", def.Name,
		"--target", c.opts.Target,
		"--release",
		"--target-dir", c.TargetDir(),
	)
	return Command{
		Name:   "cargo",
		Args:   args,
		Dir:    ws.Dir,
		Stdout: c.opts.Output,
		Stderr: c.opts.Output,
	}
}

func (c *Cargo) Compile(ctx context.Context, ws workspace.Workspace, def model.TaskDefinition) (string, error) {
	cmd := c.Command(ws, def)
	c.log.Debug("running %s", cmd)
	if err := c.opts.Runner.Run(ctx, cmd); err != nil {
		return "", err
	}
	return checkArtifact(c.ArtifactPath(def.Name))
}

// Rustc compiles the single source file directly. It is faster for tasks
// with no dependencies and cannot see task-dependencies at all.
type Rustc struct {
	opts Options
	log  *logging.Logger
}

func NewRustc(opts Options) *Rustc {
	opts = opts.withDefaults()
	return &Rustc{opts: opts, log: opts.Logger.Component("compiler")}
}

func (r *Rustc) ArtifactPath(task string) string {
	return filepath.Join(r.opts.OutputRoot, task+".wasm")
}

func (r *Rustc) Command(ws workspace.Workspace, def model.TaskDefinition) Command {
	args := toolchainArgs(r.opts.Toolchain)
	args = append(args,
		"--target", r.opts.Target,
		"-Ccodegen-units=1",
		ws.SourcePath(def.Name),
		"-o", r.ArtifactPath(def.Name),
	)
	return Command{
		Name:   "rustc",
		Args:   args,
		Dir:    ws.Dir,
		Stdout: r.opts.Output,
		Stderr: r.opts.Output,
	}
}

func (r *Rustc) Compile(ctx context.Context, ws workspace.Workspace, def model.TaskDefinition) (string, error) {
	if len(ws.Dependencies) > 0 {
		r.log.Warn("rustc ignores task-dependencies (%d declared); use the cargo compiler", len(ws.Dependencies))
	}
	cmd := r.Command(ws, def)
	r.log.Debug("running %s", cmd)
	if err := r.opts.Runner.Run(ctx, cmd); err != nil {
		return "", err
	}
	return checkArtifact(r.ArtifactPath(def.Name))
}
