// Package sandbox describes the capability grant a task executes with.
// It decides nothing about enforcement; the engine applies the grant.
package sandbox

import (
	"io"
	"os"
	"strings"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/model"
)

// GuestRoot is where the workspace is mounted inside the sandbox.
const GuestRoot = "/"

// Preopen maps one host directory into the sandbox.
type Preopen struct {
	HostDir   string
	GuestPath string
	ReadOnly  bool
}

// Capabilities is everything a sandboxed task may observe or touch.
// InheritAll and Env are mutually exclusive.
type Capabilities struct {
	Stdout     io.Writer
	Stderr     io.Writer
	InheritAll bool
	Env        []model.EnvPair
	Args       []string
	Preopens   []Preopen
}

// Options overrides the defaults BuildContext uses. Zero values mean the
// process's own streams and a discarding logger.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *logging.Logger
}

// BuildContext turns a resolved task into its capability grant: the
// process's output streams, the environment grant, argv with the task name
// first, and the workspace mounted read-write at GuestRoot.
func BuildContext(def model.TaskDefinition, taskArgs []string, workspaceDir string, opts Options) Capabilities {
	log := opts.Logger.Component("sandbox")

	caps := Capabilities{
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
		Preopens: []Preopen{{
			HostDir:   workspaceDir,
			GuestPath: GuestRoot,
			ReadOnly:  false,
		}},
	}
	if caps.Stdout == nil {
		caps.Stdout = os.Stdout
	}
	if caps.Stderr == nil {
		caps.Stderr = os.Stderr
	}

	caps.Args = make([]string, 0, len(taskArgs)+1)
	caps.Args = append(caps.Args, def.Name)
	caps.Args = append(caps.Args, taskArgs...)

	switch def.Env.Mode {
	case model.EnvAll:
		caps.InheritAll = true
		log.Debug("task %s inherits the full environment", def.Name)
	case model.EnvAllowList:
		caps.Env = make([]model.EnvPair, len(def.Env.Pairs))
		copy(caps.Env, def.Env.Pairs)
		for _, p := range caps.Env {
			log.Info("forwarding env var %s", p.Name)
		}
	}
	return caps
}

// Environ returns the environment handed to the engine. live is only called
// for InheritAll and should return KEY=VALUE entries like os.Environ.
func (c Capabilities) Environ(live func() []string) []model.EnvPair {
	if !c.InheritAll {
		out := make([]model.EnvPair, len(c.Env))
		copy(out, c.Env)
		return out
	}
	if live == nil {
		live = os.Environ
	}
	entries := live()
	out := make([]model.EnvPair, 0, len(entries))
	for _, kv := range entries {
		name, value, ok := strings.Cut(kv, "=")
		// Windows-style "=C:" entries have an empty name.
		if !ok || name == "" {
			continue
		}
		out = append(out, model.EnvPair{Name: name, Value: value})
	}
	return out
}
