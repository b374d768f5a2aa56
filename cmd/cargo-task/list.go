package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/runner"
)

type listEntry struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	EnvMode  string   `yaml:"env_mode"`
	EnvNames []string `yaml:"env_names,omitempty"`
}

func toListEntries(defs []model.TaskDefinition) []listEntry {
	entries := make([]listEntry, 0, len(defs))
	for _, d := range defs {
		e := listEntry{Name: d.Name, Path: d.Path, EnvMode: d.Env.Mode.String()}
		if d.Env.Mode == model.EnvAllowList {
			e.EnvNames = d.Env.Names()
		}
		entries = append(entries, e)
	}
	return entries
}

func (a *app) list(ctx context.Context, r *runner.Runner, cwd, format string) error {
	defs, err := r.List(ctx, cwd)
	if err != nil {
		return harnessError(err)
	}
	entries := toListEntries(defs)

	switch format {
	case "yaml":
		out, err := yaml.Marshal(map[string]any{"tasks": entries})
		if err != nil {
			return harnessError(fmt.Errorf("marshal task list: %w", err))
		}
		_, err = a.stdout.Write(out)
		if err != nil {
			return harnessError(err)
		}
		return nil
	case "text", "":
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tENV\tPATH")
		for _, e := range entries {
			env := e.EnvMode
			if len(e.EnvNames) > 0 {
				env = strings.Join(e.EnvNames, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, env, e.Path)
		}
		if err := tw.Flush(); err != nil {
			return harnessError(err)
		}
		return nil
	default:
		return harnessError(fmt.Errorf("unknown --output %q (want text or yaml)", format))
	}
}
