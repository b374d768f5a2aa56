// Package model defines the data structures shared by the task pipeline:
// the manifest subset cargo-task reads, resolved task definitions, capability
// grants, tool configuration and the postmortem run record.
package model

// Manifest is the task-related subset of a project's Cargo.toml.
// It is never mutated after manifest.Load returns it.
type Manifest struct {
	Tasks            map[string]TaskDetail
	TaskDependencies map[string]string
}

// Task returns the explicit entry for name, if any. Lookup is case-sensitive.
func (m Manifest) Task(name string) (TaskDetail, bool) {
	d, ok := m.Tasks[name]
	return d, ok
}

// TaskDetail overrides the conventional location or grants capabilities
// for a single task.
type TaskDetail struct {
	// Path is relative to the project root unless absolute. Empty means
	// tasks/<name>.rs.
	Path string

	// Permissions is nil when the manifest declares no grants.
	Permissions *Permissions
}

type Permissions struct {
	InheritEnv InheritEnv
}

// InheritEnv is either InheritEnvBool or InheritEnvList. The unexported
// marker method keeps the set of shapes closed.
type InheritEnv interface {
	inheritEnv()
}

// InheritEnvBool grants the whole environment (true) or none of it (false).
type InheritEnvBool bool

// InheritEnvList grants exactly the named variables that are set when the
// task is resolved.
type InheritEnvList []string

func (InheritEnvBool) inheritEnv() {}
func (InheritEnvList) inheritEnv() {}

// InheritEnv returns the declaration for d, or nil when d has no
// permissions block.
func (d TaskDetail) InheritEnv() InheritEnv {
	if d.Permissions == nil {
		return nil
	}
	return d.Permissions.InheritEnv
}
