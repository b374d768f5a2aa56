package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/msageha/cargo-task/internal/config"
	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/manifest"
	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/runner"
	"github.com/msageha/cargo-task/internal/setup"
	"github.com/msageha/cargo-task/internal/task"
	"github.com/msageha/cargo-task/internal/watch"
)

// Process exit codes.
const (
	exitOK          = 0
	exitTaskFailed  = 1
	exitHarness     = 2
	exitInterrupted = 130
)

// exitCodeError carries a process exit code out of a cobra command.
// A nil err means the reason was already reported.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func harnessError(err error) error {
	return &exitCodeError{code: exitHarness, err: err}
}

type app struct {
	stdout io.Writer
	stderr io.Writer
	getwd  func() (string, error)

	// runnerOpts are appended when the runner is built; tests use them to
	// swap the compiler and engine.
	runnerOpts []runner.Option
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, getwd: os.Getwd}
}

func (a *app) execute(args []string) int {
	cmd := a.rootCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var ec *exitCodeError
	if !errors.As(err, &ec) {
		// Flag and argument errors from cobra itself.
		ec = harnessError(err).(*exitCodeError)
	}
	if ec.err != nil {
		fmt.Fprintf(a.stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), ec.err)
	}
	return ec.code
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cargo-task",
		Short:         "Run sandboxed Rust tasks for a Cargo project",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.AddCommand(a.taskCommand())
	return root
}

type taskFlags struct {
	list    bool
	watch   bool
	output  string
	newTask bool
	initCfg bool
}

func (a *app) taskCommand() *cobra.Command {
	var tf taskFlags
	cmd := &cobra.Command{
		Use:   "task [flags] <name> [task-args...]",
		Short: "Compile a task to WebAssembly and run it in the sandbox",
		Long: `Runs a task declared under [tasks] in Cargo.toml or found at tasks/<name>.rs.

Everything after the task name is passed to the task untouched. Flags for
cargo-task itself must come before the name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTask(cmd, tf, args)
		},
	}
	cmd.Flags().SetInterspersed(false)

	f := cmd.Flags()
	f.BoolVar(&tf.list, "list", false, "list runnable tasks and exit")
	f.BoolVar(&tf.watch, "watch", false, "re-run the task when its source or Cargo.toml changes")
	f.StringVar(&tf.output, "output", "text", "format for --list: text or yaml")
	f.BoolVar(&tf.newTask, "new", false, "create tasks/<name>.rs from a starter template and exit")
	f.BoolVar(&tf.initCfg, "init", false, "write a default .cargo-task.yaml to the project root and exit")
	f.Bool("all-tasks", false, "stage every task in one shared workspace")
	f.String("compiler", model.CompilerCargo, "compiler to use: cargo or rustc")
	f.String("toolchain", "", "rustup toolchain, without the leading +")
	f.String("target", model.DefaultTarget, "WebAssembly target triple")
	f.String("output-dir", model.DefaultOutputDir, "output directory, relative to the project root")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.Int("watch-debounce-ms", 300, "quiet period before a --watch re-run")
	return cmd
}

func (a *app) runTask(cmd *cobra.Command, tf taskFlags, args []string) error {
	cwd, err := a.getwd()
	if err != nil {
		return harnessError(fmt.Errorf("get working directory: %w", err))
	}
	// A missing project is reported by the runner; config only needs the
	// root when there is one.
	root, _ := manifest.FindRoot(cwd)

	if tf.initCfg || tf.newTask {
		return a.scaffold(root, tf, args)
	}

	cfg, err := config.Load(root, cmd.Flags())
	if err != nil {
		return harnessError(err)
	}
	logger := logging.New(a.stderr, logging.ParseLevel(cfg.LogLevel))

	opts := append([]runner.Option{runner.WithStreams(a.stdout, a.stderr)}, a.runnerOpts...)
	r := runner.New(cfg, logger, opts...)

	if tf.list {
		return a.list(cmd.Context(), r, cwd, tf.output)
	}
	if len(args) == 0 {
		return harnessError(errors.New("missing task name (usage: cargo task <name> [args...])"))
	}
	req := runner.Request{TaskName: args[0], Args: args[1:], StartDir: cwd}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tf.watch {
		return a.watch(ctx, r, req, cfg, logger)
	}

	res, err := r.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return &exitCodeError{code: exitInterrupted, err: err}
		}
		return harnessError(err)
	}
	if res.ExitCode != runner.ExitSuccess {
		return &exitCodeError{code: exitTaskFailed}
	}
	return nil
}

func (a *app) scaffold(root string, tf taskFlags, args []string) error {
	if root == "" {
		return harnessError(manifest.ErrRootNotFound)
	}
	if tf.initCfg {
		path, err := setup.WriteConfig(root)
		if err != nil {
			return harnessError(err)
		}
		fmt.Fprintf(a.stdout, "created %s\n", path)
	}
	if tf.newTask {
		if len(args) == 0 {
			return harnessError(errors.New("--new needs a task name"))
		}
		path, err := setup.NewTask(root, args[0])
		if err != nil {
			return harnessError(err)
		}
		fmt.Fprintf(a.stdout, "created %s\n", path)
	}
	return nil
}

func (a *app) watch(ctx context.Context, r *runner.Runner, req runner.Request, cfg model.Config, logger *logging.Logger) error {
	root, m, err := r.Project(req.StartDir)
	if err != nil {
		return harnessError(err)
	}
	files := []string{manifest.Path(root)}
	var dirs []string
	if def, err := task.NewResolver(root, m, nil).Resolve(req.TaskName); err == nil {
		files = append(files, def.Path)
	}
	tasksDir := filepath.Join(root, task.Dir)
	if info, err := os.Stat(tasksDir); err == nil && info.IsDir() {
		dirs = append(dirs, tasksDir)
	}

	w := watch.New(files, dirs, time.Duration(cfg.WatchDebounceMs)*time.Millisecond, logger)
	err = w.Run(ctx, func(ctx context.Context) error {
		res, err := r.Run(ctx, req)
		if err != nil {
			return err
		}
		logger.Info("task %s finished with exit code %d", req.TaskName, res.ExitCode)
		return nil
	})
	if err != nil {
		return harnessError(err)
	}
	return nil
}
