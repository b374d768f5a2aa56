package workspace

import "fmt"

// BuildError is a filesystem failure while staging the workspace.
type BuildError struct {
	Op   string
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
