package task

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("task not found")

// NotFoundError means name matched neither a manifest entry nor a
// conventional source file.
type NotFoundError struct {
	Name     string
	Searched string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found: no [tasks.%s] entry in Cargo.toml and no file at %s", e.Name, e.Name, e.Searched)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid task name %q: %s", e.Name, e.Reason)
}
