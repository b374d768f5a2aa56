package model

import "time"

// RunRecord is the postmortem summary kept in the ephemeral workspace.
// It lists the names of forwarded environment variables, never their values.
type RunRecord struct {
	SchemaVersion int       `yaml:"schema_version"`
	InvocationID  string    `yaml:"invocation_id"`
	Task          string    `yaml:"task"`
	Source        string    `yaml:"source"`
	EnvMode       string    `yaml:"env_mode"`
	EnvNames      []string  `yaml:"env_names,omitempty"`
	Args          int       `yaml:"args"`
	State         RunState  `yaml:"state"`
	ExitCode      *int      `yaml:"exit_code,omitempty"`
	Error         string    `yaml:"error,omitempty"`
	StartedAt     time.Time `yaml:"started_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}
