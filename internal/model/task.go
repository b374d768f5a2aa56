package model

// SourceExt is the extension of task source files.
const SourceExt = ".rs"

// TaskDefinition is a task resolved for one invocation: where its single
// source file lives and which environment it may observe.
type TaskDefinition struct {
	Name string
	Path string
	Env  EnvVars
}
