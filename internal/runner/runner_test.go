package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeCompiler struct {
	outputRoot string
	err        error
	workspaces []workspace.Workspace
}

func (f *fakeCompiler) Compile(_ context.Context, ws workspace.Workspace, def model.TaskDefinition) (string, error) {
	f.workspaces = append(f.workspaces, ws)
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.outputRoot, def.Name+".wasm")
	return path, os.WriteFile(path, []byte("\x00asm"), 0644)
}

type fakeEngine struct {
	outcome engine.Outcome
	err     error
	caps    []sandbox.Capabilities
}

func (f *fakeEngine) Run(_ context.Context, _ string, caps sandbox.Capabilities) (engine.Outcome, error) {
	f.caps = append(f.caps, caps)
	return f.outcome, f.err
}

type fixture struct {
	root     string
	compiler *fakeCompiler
	engine   *fakeEngine
	runner   *Runner
}

const greetManifest = `[package]
name = "demo"
version = "0.1.0"

[tasks.greet]
path = "scripts/greet.rs"
permissions = { inherit-env = ["GREETING"] }

[tasks.open]
permissions = { inherit-env = true }

[task-dependencies]
anyhow = "1"
`

func newFixture(t *testing.T, cfg model.Config) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, manifest.FileName), greetManifest)
	writeFile(t, filepath.Join(root, "scripts", "greet.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "tasks", "open.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "tasks", "hello.rs"), "fn main() {}\n")

	f := &fixture{
		root:   root,
		engine: &fakeEngine{outcome: engine.Outcome{Success: true}},
	}
	env := permission.MapLookup(map[string]string{"GREETING": "hi", "SECRET": "s3cret"})
	f.runner = New(cfg, logging.Discard(),
		WithEnv(env),
		WithCompilerFactory(func(outputRoot string) (compiler.Compiler, error) {
			if f.compiler == nil {
				f.compiler = &fakeCompiler{}
			}
			f.compiler.outputRoot = outputRoot
			return f.compiler, nil
		}),
		WithEngineFactory(func(string) engine.Engine { return f.engine }),
	)
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRun_GreetAllowList(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", Args: []string{"world"}, StartDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, model.StateDone, res.State)
	assert.True(t, model.ValidateInvocationID(res.InvocationID))

	require.Len(t, f.engine.caps, 1)
	caps := f.engine.caps[0]
	assert.False(t, caps.InheritAll)
	assert.Equal(t, []model.EnvPair{{Name: "GREETING", Value: "hi"}}, caps.Environ(nil))
	assert.Equal(t, []string{"greet", "world"}, caps.Args)
	require.Len(t, caps.Preopens, 1)
	assert.Equal(t, filepath.Join(f.root, "target", "tasks", "ws"), caps.Preopens[0].HostDir)

	require.Len(t, f.compiler.workspaces, 1)
	ws := f.compiler.workspaces[0]
	assert.Equal(t, []string{"greet"}, ws.Tasks)
	assert.Equal(t, map[string]string{"anyhow": "1"}, ws.Dependencies)
}

func TestRun_OpenInheritsEverything(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	res, err := f.runner.Run(context.Background(), Request{TaskName: "open", StartDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)

	require.Len(t, f.engine.caps, 1)
	caps := f.engine.caps[0]
	assert.True(t, caps.InheritAll)
	assert.Empty(t, caps.Env)
	live := []string{"GREETING=hi", "SECRET=s3cret"}
	assert.Len(t, caps.Environ(func() []string { return live }), 2)
}

func TestRun_ConventionTaskGetsNoEnv(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	_, err := f.runner.Run(context.Background(), Request{TaskName: "hello", StartDir: f.root})
	require.NoError(t, err)

	caps := f.engine.caps[0]
	assert.False(t, caps.InheritAll)
	assert.Empty(t, caps.Environ(nil))
}

func TestRun_TaskFailureExitsOne(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	f.engine.outcome = engine.Outcome{Success: false, ExitCode: 7}

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, ExitFailure, res.ExitCode)
	assert.Equal(t, uint32(7), res.TaskExitCode)
	assert.Equal(t, model.StateDone, res.State)
}

func TestRun_RecordHoldsNamesNotValues(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", Args: []string{"a", "b"}, StartDir: f.root})
	require.NoError(t, err)

	rec, err := ReadRecord(f.runner.OutputRoot(f.root))
	require.NoError(t, err)
	assert.Equal(t, res.InvocationID, rec.InvocationID)
	assert.Equal(t, "greet", rec.Task)
	assert.Equal(t, "allow-list", rec.EnvMode)
	assert.Equal(t, []string{"GREETING"}, rec.EnvNames)
	assert.Equal(t, 2, rec.Args)
	assert.Equal(t, model.StateDone, rec.State)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)

	raw, err := os.ReadFile(RecordPath(f.runner.OutputRoot(f.root)))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hi\n")
	assert.NotContains(t, string(raw), "s3cret")
}

func TestRun_RecordStaysOutsideTaskRoot(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	require.NoError(t, err)

	assert.FileExists(t, RecordPath(f.runner.OutputRoot(f.root)))
	assert.NoFileExists(t, filepath.Join(res.Workspace, RecordName))
	require.Len(t, f.engine.caps, 1)
	for _, p := range f.engine.caps[0].Preopens {
		assert.NoFileExists(t, filepath.Join(p.HostDir, RecordName))
	}
}

func TestRun_UnknownTask(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	res, err := f.runner.Run(context.Background(), Request{TaskName: "nope", StartDir: f.root})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateManifestLoaded, stageErr.State)
	assert.Equal(t, model.StateManifestLoaded, res.State)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.Contains(t, err.Error(), "nope")
	assert.Empty(t, f.engine.caps)
}

func TestRun_BadManifestFailsAtStart(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	writeFile(t, filepath.Join(f.root, manifest.FileName), "[tasks.greet]\npermisions = {}\n")

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateStart, stageErr.State)
	var parseErr *manifest.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "tasks.greet.permisions")
}

func TestRun_NoProject(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	require.NoError(t, os.Remove(filepath.Join(f.root, manifest.FileName)))

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateStart, stageErr.State)
}

func TestRun_CompileFailureLeavesWorkspace(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	f.compiler = &fakeCompiler{err: &compiler.ExitError{Tool: "cargo", Code: 101}}

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateWorkspaceBuilt, stageErr.State)
	var exitErr *compiler.ExitError
	require.ErrorAs(t, err, &exitErr)

	assert.DirExists(t, res.Workspace)
	assert.FileExists(t, filepath.Join(res.Workspace, "src", "greet.rs"))

	rec, err := ReadRecord(f.runner.OutputRoot(f.root))
	require.NoError(t, err)
	assert.Equal(t, model.StateWorkspaceBuilt, rec.State)
	assert.Contains(t, rec.Error, "cargo exited with status 101")
	assert.Nil(t, rec.ExitCode)
}

func TestRun_EngineErrorIsHarnessFailure(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	f.engine.err = errors.New("compile module: bad magic")

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateSandboxReady, stageErr.State)
}

func TestRun_MissingExplicitSourceFailsInBuild(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	require.NoError(t, os.Remove(filepath.Join(f.root, "scripts", "greet.rs")))

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateTaskResolved, stageErr.State)
	var buildErr *workspace.BuildError
	require.ErrorAs(t, err, &buildErr)
}

func TestRun_WorkspaceLocked(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	held := lock.NewFileLock(filepath.Join(f.root, "target", "tasks", workspace.LockName))
	require.NoError(t, held.TryLock())
	defer func() { _ = held.Unlock() }()

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StateTaskResolved, stageErr.State)
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestRun_AllTasksSharedWorkspace(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.AllTasks = true
	f := newFixture(t, cfg)

	_, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	require.NoError(t, err)

	require.Len(t, f.compiler.workspaces, 1)
	assert.Equal(t, []string{"greet", "hello", "open"}, f.compiler.workspaces[0].Tasks)
}

func TestRun_CustomOutputDir(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	f := newFixture(t, cfg)

	res, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "ws"), res.Workspace)
}

func TestRun_AppendsHistory(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())
	outputRoot := filepath.Join(f.root, "target", "tasks")

	ok, err := f.runner.Run(context.Background(), Request{TaskName: "greet", StartDir: f.root})
	require.NoError(t, err)
	f.compiler.err = errors.New("linker missing")
	_, err = f.runner.Run(context.Background(), Request{TaskName: "hello", StartDir: f.root})
	require.Error(t, err)

	entries, err := history.ReadAll(outputRoot)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ok.InvocationID, entries[0].InvocationID)
	assert.Equal(t, "greet", entries[0].Task)
	assert.Equal(t, string(model.StateDone), entries[0].State)
	assert.Equal(t, []string{"GREETING"}, entries[0].EnvNames)
	require.NotNil(t, entries[0].ExitCode)
	assert.Equal(t, ExitSuccess, *entries[0].ExitCode)

	assert.Equal(t, "hello", entries[1].Task)
	assert.Equal(t, string(model.StateWorkspaceBuilt), entries[1].State)
	assert.Contains(t, entries[1].Error, "linker missing")
	assert.Nil(t, entries[1].ExitCode)
}

func TestList(t *testing.T) {
	f := newFixture(t, model.DefaultConfig())

	defs, err := f.runner.List(context.Background(), filepath.Join(f.root, "scripts"))
	require.NoError(t, err)

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"greet", "hello", "open"}, names)
}

func TestStageError(t *testing.T) {
	err := &StageError{State: model.StateCompiled, Err: errors.New("boom")}
	assert.Equal(t, "boom (after compiled)", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}
