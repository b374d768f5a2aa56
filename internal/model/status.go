package model

import "fmt"

// RunState is a step of the task pipeline. States advance strictly in
// declaration order; there is no way back.
type RunState string

const (
	StateStart          RunState = "start"
	StateManifestLoaded RunState = "manifest_loaded"
	StateTaskResolved   RunState = "task_resolved"
	StateWorkspaceBuilt RunState = "workspace_built"
	StateCompiled       RunState = "compiled"
	StateSandboxReady   RunState = "sandbox_ready"
	StateExecuted       RunState = "executed"
	StateDone           RunState = "done"
)

var runStateOrder = []RunState{
	StateStart,
	StateManifestLoaded,
	StateTaskResolved,
	StateWorkspaceBuilt,
	StateCompiled,
	StateSandboxReady,
	StateExecuted,
	StateDone,
}

func runStateIndex(s RunState) int {
	for i, st := range runStateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the state following s. Done has no successor.
func (s RunState) Next() (RunState, bool) {
	i := runStateIndex(s)
	if i < 0 || i == len(runStateOrder)-1 {
		return "", false
	}
	return runStateOrder[i+1], true
}

func IsRunTerminal(s RunState) bool {
	return s == StateDone
}

func ValidateRunTransition(from, to RunState) error {
	if IsRunTerminal(from) {
		return fmt.Errorf("cannot transition from terminal state %q", from)
	}
	next, ok := from.Next()
	if !ok {
		return fmt.Errorf("unknown state %q", from)
	}
	if next != to {
		return fmt.Errorf("invalid run transition: %q → %q", from, to)
	}
	return nil
}
