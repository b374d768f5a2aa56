package runner

import (
	"fmt"

	"github.com/msageha/cargo-task/internal/model"
)

// StageError aborts a run. State is the last state the run reached, so a
// failure while compiling reports workspace_built.
type StageError struct {
	State model.RunState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v (after %s)", e.Err, e.State)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
