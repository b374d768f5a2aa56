package compiler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	var out bytes.Buffer
	err := ExecRunner{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo built; echo warn 1>&2"},
		Stdout: &out,
		Stderr: &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "built")
	assert.Contains(t, out.String(), "warn")
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "sh", exitErr.Tool)
	assert.Equal(t, 3, exitErr.Code)
}

func TestExecRunner_MissingTool(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), Command{Name: "cargo-task-no-such-tool"})
	require.Error(t, err)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecRunner_CancelInterruptsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ExecRunner{Grace: time.Second}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 30"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
