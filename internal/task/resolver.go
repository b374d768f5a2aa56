// Package task resolves task names to source files and capability grants.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/permission"
)

// Dir is the conventional tasks directory under the project root.
const Dir = "tasks"

type Resolver struct {
	Root     string
	Manifest model.Manifest
	Env      permission.Lookup
}

func NewResolver(root string, m model.Manifest, env permission.Lookup) *Resolver {
	if env == nil {
		env = permission.OSLookup
	}
	return &Resolver{Root: root, Manifest: m, Env: env}
}

// ConventionPath returns tasks/<name>.rs under root.
func ConventionPath(root, name string) string {
	return filepath.Join(root, Dir, name+model.SourceExt)
}

// Resolve returns the definition of name.
//
// A manifest entry is authoritative and its file is not checked here; the
// workspace build reports a missing source. Without an entry, the
// conventional file must exist and the task gets no environment.
func (r *Resolver) Resolve(name string) (model.TaskDefinition, error) {
	if err := ValidateName(name); err != nil {
		return model.TaskDefinition{}, err
	}

	if detail, ok := r.Manifest.Task(name); ok {
		return r.fromManifest(name, detail), nil
	}

	path := ConventionPath(r.Root, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.TaskDefinition{}, &NotFoundError{Name: name, Searched: path}
		}
		return model.TaskDefinition{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return model.TaskDefinition{}, &NotFoundError{Name: name, Searched: path}
	}
	return model.TaskDefinition{Name: name, Path: path, Env: model.NoEnv()}, nil
}

func (r *Resolver) fromManifest(name string, detail model.TaskDetail) model.TaskDefinition {
	path := detail.Path
	switch {
	case path == "":
		path = ConventionPath(r.Root, name)
	case !filepath.IsAbs(path):
		path = filepath.Join(r.Root, path)
	}
	return model.TaskDefinition{
		Name: name,
		Path: filepath.Clean(path),
		Env:  permission.Resolve(detail.InheritEnv(), r.Env),
	}
}

// Discover returns every task: all manifest entries plus each tasks/*.rs
// file whose name is not already declared. Results are sorted by name.
func (r *Resolver) Discover() ([]model.TaskDefinition, error) {
	defs := make([]model.TaskDefinition, 0, len(r.Manifest.Tasks))
	seen := make(map[string]bool, len(r.Manifest.Tasks))

	for name, detail := range r.Manifest.Tasks {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		defs = append(defs, r.fromManifest(name, detail))
		seen[name] = true
	}

	dir := filepath.Join(r.Root, Dir)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != model.SourceExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), model.SourceExt)
		if seen[name] || ValidateName(name) != nil {
			continue
		}
		defs = append(defs, model.TaskDefinition{
			Name: name,
			Path: filepath.Join(dir, entry.Name()),
			Env:  model.NoEnv(),
		})
		seen[name] = true
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// ValidateName rejects names that cannot be used as a file stem and binary
// name inside the workspace.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &InvalidNameError{Name: name, Reason: "must not be empty"}
	case name == "." || name == "..":
		return &InvalidNameError{Name: name, Reason: "reserved path component"}
	case strings.ContainsAny(name, `/\`):
		return &InvalidNameError{Name: name, Reason: "must not contain path separators"}
	case strings.HasPrefix(name, "-"):
		return &InvalidNameError{Name: name, Reason: "must not start with '-'"}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &InvalidNameError{Name: name, Reason: "must not contain control characters"}
		}
	}
	return nil
}
