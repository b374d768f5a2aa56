// Package runner drives one task invocation through the pipeline:
// locate the project, load the manifest, resolve the task, stage the
// workspace, compile, then execute in the sandbox.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/msageha/cargo-task/internal/compiler"
	"github.com/msageha/cargo-task/internal/engine"
	"github.com/msageha/cargo-task/internal/history"
	"github.com/msageha/cargo-task/internal/lock"
	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/manifest"
	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/permission"
	"github.com/msageha/cargo-task/internal/sandbox"
	"github.com/msageha/cargo-task/internal/task"
	"github.com/msageha/cargo-task/internal/workspace"
)

// Task exit codes. Harness failures are reported as errors; the CLI maps
// them to its own code.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

type Request struct {
	TaskName string
	Args     []string
	StartDir string
}

type Result struct {
	ExitCode     int
	TaskExitCode uint32
	State        model.RunState
	InvocationID string
	Workspace    string
}

// CompilerFactory builds the compiler for an output root.
type CompilerFactory func(outputRoot string) (compiler.Compiler, error)

// EngineFactory builds the engine for an output root.
type EngineFactory func(outputRoot string) engine.Engine

type Runner struct {
	config      model.Config
	env         permission.Lookup
	stdout      io.Writer
	stderr      io.Writer
	logger      *logging.Logger
	newCompiler CompilerFactory
	newEngine   EngineFactory
	now         func() time.Time
}

type Option func(*Runner)

// WithEnv sets the environment permission grants are resolved against.
func WithEnv(env permission.Lookup) Option {
	return func(r *Runner) { r.env = env }
}

// WithStreams sets the task's stdout and stderr.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

func WithCompilerFactory(f CompilerFactory) Option {
	return func(r *Runner) { r.newCompiler = f }
}

func WithEngineFactory(f EngineFactory) Option {
	return func(r *Runner) { r.newEngine = f }
}

func New(cfg model.Config, logger *logging.Logger, opts ...Option) *Runner {
	r := &Runner{
		config: cfg,
		env:    permission.OSLookup,
		logger: logger.Component("runner"),
		now:    time.Now,
	}
	r.newCompiler = func(outputRoot string) (compiler.Compiler, error) {
		return compiler.New(cfg.Compiler, compiler.Options{
			Toolchain:  cfg.Toolchain,
			Target:     cfg.Target,
			OutputRoot: outputRoot,
			Output:     r.stderr,
			Logger:     logger,
		})
	}
	r.newEngine = func(outputRoot string) engine.Engine {
		return engine.NewWazero(filepath.Join(outputRoot, "wazero-cache"), logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OutputRoot returns the directory cargo-task owns inside a project.
func (r *Runner) OutputRoot(root string) string {
	dir := r.config.OutputDir
	if dir == "" {
		dir = model.DefaultOutputDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// Project locates the project root from startDir and loads its manifest.
func (r *Runner) Project(startDir string) (string, model.Manifest, error) {
	root, err := manifest.FindRoot(startDir)
	if err != nil {
		return "", model.Manifest{}, err
	}
	m, err := manifest.Load(manifest.Path(root))
	if err != nil {
		return "", model.Manifest{}, err
	}
	return root, m, nil
}

// List returns every task the project at startDir can run.
func (r *Runner) List(ctx context.Context, startDir string) ([]model.TaskDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, m, err := r.Project(startDir)
	if err != nil {
		return nil, err
	}
	return task.NewResolver(root, m, r.env).Discover()
}

// run tracks one invocation's progress through the pipeline.
type run struct {
	state model.RunState
	rec   *recorder
}

func (p *run) advance(to model.RunState) error {
	if err := model.ValidateRunTransition(p.state, to); err != nil {
		return err
	}
	p.state = to
	p.rec.update(to, nil, nil)
	return nil
}

func (p *run) finish(exitCode int) error {
	if err := model.ValidateRunTransition(p.state, model.StateDone); err != nil {
		return err
	}
	p.state = model.StateDone
	p.rec.update(model.StateDone, &exitCode, nil)
	return nil
}

func (p *run) fail(err error) error {
	p.rec.update(p.state, nil, err)
	return &StageError{State: p.state, Err: err}
}

// Run executes one task. A task that runs and fails is a Result with
// ExitFailure, not an error. Any harness failure is a *StageError; the
// workspace is left on disk for inspection.
func (r *Runner) Run(ctx context.Context, req Request) (result Result, runErr error) {
	id, err := model.NewInvocationID()
	if err != nil {
		return Result{State: model.StateStart}, &StageError{State: model.StateStart, Err: err}
	}
	p := &run{state: model.StateStart}
	res := Result{InvocationID: id}
	log := r.logger

	root, m, err := r.Project(req.StartDir)
	if err != nil {
		return r.result(res, p), p.fail(err)
	}
	if err := p.advance(model.StateManifestLoaded); err != nil {
		return r.result(res, p), p.fail(err)
	}

	resolver := task.NewResolver(root, m, r.env)
	def, err := resolver.Resolve(req.TaskName)
	if err != nil {
		return r.result(res, p), p.fail(err)
	}
	selection := []model.TaskDefinition{def}
	if r.config.AllTasks {
		if selection, err = r.allTasks(resolver, def); err != nil {
			return r.result(res, p), p.fail(err)
		}
	}
	if err := p.advance(model.StateTaskResolved); err != nil {
		return r.result(res, p), p.fail(err)
	}
	p.rec = newRecorder(id, def, req.Args, r.now, log)
	log.Info("task %s from %s (env: %s)", def.Name, def.Path, def.Env)

	outputRoot := r.OutputRoot(root)
	builder := workspace.NewBuilder(outputRoot, r.config.PackageName, r.config.Edition, r.logger)
	fl := lock.NewFileLock(builder.LockPath())
	if err := fl.TryLock(); err != nil {
		return r.result(res, p), p.fail(fmt.Errorf("workspace busy: %w", err))
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			log.Warn("release workspace lock: %v", err)
		}
	}()
	// Appended while the lock is still held.
	started := r.now()
	defer func() {
		r.appendHistory(outputRoot, def, result, runErr, r.now().Sub(started))
	}()

	ws, err := builder.Build(m, selection)
	if err != nil {
		return r.result(res, p), p.fail(err)
	}
	res.Workspace = ws.Dir
	p.rec.attach(outputRoot)
	if err := p.advance(model.StateWorkspaceBuilt); err != nil {
		return r.result(res, p), p.fail(err)
	}

	comp, err := r.newCompiler(outputRoot)
	if err != nil {
		return r.result(res, p), p.fail(err)
	}
	artifact, err := comp.Compile(ctx, ws, def)
	if err != nil {
		return r.result(res, p), p.fail(fmt.Errorf("compile %s: %w", def.Name, err))
	}
	if err := p.advance(model.StateCompiled); err != nil {
		return r.result(res, p), p.fail(err)
	}

	caps := sandbox.BuildContext(def, req.Args, ws.Dir, sandbox.Options{
		Stdout: r.stdout,
		Stderr: r.stderr,
		Logger: r.logger,
	})
	if err := p.advance(model.StateSandboxReady); err != nil {
		return r.result(res, p), p.fail(err)
	}

	outcome, err := r.newEngine(outputRoot).Run(ctx, artifact, caps)
	if err != nil {
		return r.result(res, p), p.fail(fmt.Errorf("execute %s: %w", def.Name, err))
	}
	if err := p.advance(model.StateExecuted); err != nil {
		return r.result(res, p), p.fail(err)
	}

	res.TaskExitCode = outcome.ExitCode
	res.ExitCode = ExitSuccess
	if !outcome.Success {
		res.ExitCode = ExitFailure
		log.Warn("task %s exited with status %d", def.Name, outcome.ExitCode)
	}

	if err := p.finish(res.ExitCode); err != nil {
		return r.result(res, p), p.fail(err)
	}
	return r.result(res, p), nil
}

func (r *Runner) appendHistory(outputRoot string, def model.TaskDefinition, res Result, runErr error, elapsed time.Duration) {
	h, err := history.Open(outputRoot, history.DefaultMaxSize)
	if err != nil {
		r.logger.Warn("run history: %v", err)
		return
	}
	defer func() { _ = h.Close() }()

	e := history.Entry{
		InvocationID: res.InvocationID,
		Task:         def.Name,
		State:        string(res.State),
		DurationMs:   elapsed.Milliseconds(),
		EnvMode:      def.Env.Mode.String(),
	}
	if def.Env.Mode == model.EnvAllowList {
		e.EnvNames = def.Env.Names()
	}
	if runErr != nil {
		e.Error = runErr.Error()
	} else {
		code := res.ExitCode
		e.ExitCode = &code
	}
	if err := h.Append(e); err != nil {
		r.logger.Warn("run history: %v", err)
	}
}

func (r *Runner) result(res Result, p *run) Result {
	res.State = p.state
	return res
}

// allTasks returns every discovered task with def's entry in place, so the
// shared workspace always contains the requested task.
func (r *Runner) allTasks(resolver *task.Resolver, def model.TaskDefinition) ([]model.TaskDefinition, error) {
	all, err := resolver.Discover()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == def.Name {
			all[i] = def
			return all, nil
		}
	}
	return nil, errors.New("requested task missing from discovery: " + def.Name)
}
