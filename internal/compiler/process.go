package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGrace is how long an interrupted tool gets before SIGKILL.
const DefaultGrace = 5 * time.Second

// Command is one external tool invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// CommandRunner executes a Command to completion.
type CommandRunner interface {
	Run(ctx context.Context, c Command) error
}

// ExecRunner runs commands as host subprocesses, each in its own process
// group. Cancelling ctx sends SIGINT to the whole group and SIGKILL after
// Grace.
type ExecRunner struct {
	Grace time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := newCommand(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	cmd.WaitDelay = grace

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Tool: c.Name, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("run %s: %w", c.Name, err)
}

func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, unix.SIGINT)
	}
	return cmd
}

// signalGroup delivers sig to every process in cmd's group.
func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
