// Package engine executes compiled task modules inside a WASI sandbox.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/sandbox"
)

// Outcome is how a task ended. A task that traps or exits non-zero is a
// failed outcome, not an error.
type Outcome struct {
	Success  bool
	ExitCode uint32
}

// Engine runs one module under a capability grant.
type Engine interface {
	Run(ctx context.Context, artifact string, caps sandbox.Capabilities) (Outcome, error)
}

// ExitCodeTrap is reported when a module aborts without calling proc_exit.
const ExitCodeTrap uint32 = 1

// Wazero is the in-process engine. The module sees only what caps grants:
// its args, its environment, and the preopened directories. It gets no
// sockets.
type Wazero struct {
	// CacheDir, when set, persists compiled machine code between runs.
	CacheDir string

	// Environ enumerates the live environment for InheritAll grants.
	Environ func() []string

	Logger *logging.Logger
}

func NewWazero(cacheDir string, logger *logging.Logger) *Wazero {
	return &Wazero{CacheDir: cacheDir, Environ: os.Environ, Logger: logger.Component("engine")}
}

func (w *Wazero) Run(ctx context.Context, artifact string, caps sandbox.Capabilities) (Outcome, error) {
	bin, err := os.ReadFile(artifact)
	if err != nil {
		return Outcome{}, fmt.Errorf("read module: %w", err)
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if w.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(w.CacheDir)
		if err != nil {
			w.Logger.Warn("compilation cache disabled: %v", err)
		} else {
			defer func() { _ = cache.Close(ctx) }()
			rc = rc.WithCompilationCache(cache)
		}
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return Outcome{}, fmt.Errorf("instantiate wasi: %w", err)
	}

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return Outcome{}, fmt.Errorf("compile module %s: %w", artifact, err)
	}

	cfg := w.moduleConfig(caps)
	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	if mod != nil {
		_ = mod.Close(context.WithoutCancel(ctx))
	}
	return w.outcome(ctx, err)
}

func (w *Wazero) moduleConfig(caps sandbox.Capabilities) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(caps.Args...).
		WithStdout(caps.Stdout).
		WithStderr(caps.Stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	for _, p := range caps.Environ(w.Environ) {
		cfg = cfg.WithEnv(p.Name, p.Value)
	}

	fs := wazero.NewFSConfig()
	for _, p := range caps.Preopens {
		if p.ReadOnly {
			fs = fs.WithReadOnlyDirMount(p.HostDir, p.GuestPath)
		} else {
			fs = fs.WithDirMount(p.HostDir, p.GuestPath)
		}
	}
	return cfg.WithFSConfig(fs)
}

func (w *Wazero) outcome(ctx context.Context, err error) (Outcome, error) {
	if err == nil {
		return Outcome{Success: true}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, fmt.Errorf("task interrupted: %w", ctxErr)
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return Outcome{Success: code == 0, ExitCode: code}, nil
	}
	w.Logger.Error("task trapped: %v", err)
	return Outcome{Success: false, ExitCode: ExitCodeTrap}, nil
}
