package workspace

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/msageha/cargo-task/internal/model"
)

// DescriptorName is the build descriptor written at the workspace root.
const DescriptorName = "Cargo.toml"

type descriptorPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Edition string `toml:"edition"`
	Publish bool   `toml:"publish"`
}

type descriptorBin struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// descriptorWorkspace makes the staged package its own workspace root so
// cargo never attaches it to the host project's workspace.
type descriptorWorkspace struct {
	Members []string `toml:"members"`
}

type descriptor struct {
	Package      descriptorPackage   `toml:"package"`
	Bins         []descriptorBin     `toml:"bin"`
	Dependencies map[string]string   `toml:"dependencies,omitempty"`
	Workspace    descriptorWorkspace `toml:"workspace"`
}

func renderDescriptor(packageName, edition string, tasks []string, deps map[string]string) ([]byte, error) {
	d := descriptor{
		Package: descriptorPackage{
			Name:    packageName,
			Version: "0.0.0",
			Edition: edition,
			Publish: false,
		},
		Bins:      make([]descriptorBin, 0, len(tasks)),
		Workspace: descriptorWorkspace{Members: []string{}},
	}
	for _, name := range tasks {
		d.Bins = append(d.Bins, descriptorBin{Name: name, Path: SourceRel(name)})
	}
	if len(deps) > 0 {
		d.Dependencies = deps
	}

	out, err := toml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", DescriptorName, err)
	}
	return out, nil
}

// SourceRel is the descriptor-relative location of a task's copied source.
func SourceRel(task string) string {
	return "src/" + task + model.SourceExt
}
