// Package workspace stages the ephemeral Cargo package a task is compiled
// from.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/model"
)

const (
	// DirName is the workspace directory under the output root.
	DirName = "ws"
	// LockName is the advisory lock guarding DirName.
	LockName    = "ws.lock"
	stagingGlob = ".ws-staging-*"
)

// Selection says which tasks a workspace is staged for.
type Selection int

const (
	// SelectSingle stages only the requested task.
	SelectSingle Selection = iota
	// SelectAll stages every discovered task into one shared workspace.
	SelectAll
)

func (s Selection) String() string {
	if s == SelectAll {
		return "all"
	}
	return "single"
}

type Builder struct {
	OutputRoot  string
	PackageName string
	Edition     string
	Logger      *logging.Logger
}

// Workspace describes a fully staged workspace.
type Workspace struct {
	Dir        string
	SrcDir     string
	Descriptor string
	Tasks      []string

	// Dependencies mirrors the descriptor's [dependencies] table.
	Dependencies map[string]string
}

// SourcePath returns where task's source was copied.
func (w Workspace) SourcePath(task string) string {
	return filepath.Join(w.Dir, filepath.FromSlash(SourceRel(task)))
}

func NewBuilder(outputRoot, packageName, edition string, logger *logging.Logger) *Builder {
	if packageName == "" {
		packageName = model.DefaultPackageName
	}
	if edition == "" {
		edition = model.DefaultEdition
	}
	return &Builder{
		OutputRoot:  outputRoot,
		PackageName: packageName,
		Edition:     edition,
		Logger:      logger.Component("workspace"),
	}
}

// Dir returns the workspace path the builder manages.
func (b *Builder) Dir() string {
	return filepath.Join(b.OutputRoot, DirName)
}

// LockPath returns the advisory lock file for the workspace.
func (b *Builder) LockPath() string {
	return filepath.Join(b.OutputRoot, LockName)
}

// Build deletes any previous workspace and stages a new one holding the
// selected task sources and a descriptor with one [[bin]] per task plus the
// manifest's task dependencies.
//
// Everything is staged in a temporary sibling directory and renamed into
// place last, so an interrupted build never leaves a workspace that looks
// complete. Callers serialize Build through the lock at LockPath.
func (b *Builder) Build(m model.Manifest, selection []model.TaskDefinition) (Workspace, error) {
	if len(selection) == 0 {
		return Workspace{}, fmt.Errorf("workspace build: no tasks selected")
	}
	names := make([]string, 0, len(selection))
	seen := make(map[string]bool, len(selection))
	for _, def := range selection {
		if seen[def.Name] {
			return Workspace{}, fmt.Errorf("workspace build: task %q selected twice", def.Name)
		}
		seen[def.Name] = true
		names = append(names, def.Name)
	}

	if err := os.MkdirAll(b.OutputRoot, 0755); err != nil {
		return Workspace{}, &BuildError{Op: "create", Path: b.OutputRoot, Err: err}
	}

	dir := b.Dir()
	if err := os.RemoveAll(dir); err != nil {
		return Workspace{}, &BuildError{Op: "remove", Path: dir, Err: err}
	}
	b.removeStaleStaging()

	staging, err := os.MkdirTemp(b.OutputRoot, stagingGlob)
	if err != nil {
		return Workspace{}, &BuildError{Op: "create", Path: b.OutputRoot, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := b.stage(staging, m, selection, names); err != nil {
		return Workspace{}, err
	}
	if err := os.Rename(staging, dir); err != nil {
		return Workspace{}, &BuildError{Op: "rename", Path: dir, Err: err}
	}
	committed = true

	b.Logger.Debug("staged %d task(s) in %s", len(names), dir)
	return Workspace{
		Dir:          dir,
		SrcDir:       filepath.Join(dir, "src"),
		Descriptor:   filepath.Join(dir, DescriptorName),
		Tasks:        names,
		Dependencies: copyDeps(m.TaskDependencies),
	}, nil
}

func (b *Builder) stage(staging string, m model.Manifest, selection []model.TaskDefinition, names []string) error {
	// MkdirTemp creates 0700; the workspace is later mounted as the task's
	// root and read by the compiler.
	if err := os.Chmod(staging, 0755); err != nil {
		return &BuildError{Op: "chmod", Path: staging, Err: err}
	}
	src := filepath.Join(staging, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		return &BuildError{Op: "create", Path: src, Err: err}
	}

	for _, def := range selection {
		dst := filepath.Join(staging, filepath.FromSlash(SourceRel(def.Name)))
		if err := copyFile(def.Path, dst); err != nil {
			return &BuildError{Op: "copy", Path: def.Path, Err: err}
		}
	}

	content, err := renderDescriptor(b.PackageName, b.Edition, names, m.TaskDependencies)
	if err != nil {
		return &BuildError{Op: "render", Path: DescriptorName, Err: err}
	}
	descPath := filepath.Join(staging, DescriptorName)
	if err := writeFileSync(descPath, content); err != nil {
		return &BuildError{Op: "write", Path: descPath, Err: err}
	}
	return nil
}

func (b *Builder) removeStaleStaging() {
	matches, err := filepath.Glob(filepath.Join(b.OutputRoot, stagingGlob))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			b.Logger.Warn("remove stale staging dir %s: %v", m, err)
		}
	}
}

func copyDeps(deps map[string]string) map[string]string {
	if len(deps) == 0 {
		return nil
	}
	out := make(map[string]string, len(deps))
	for k, v := range deps {
		out[k] = v
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writeFileSync(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
