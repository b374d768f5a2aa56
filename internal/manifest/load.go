// Package manifest loads the task section of a project's Cargo.toml.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/msageha/cargo-task/internal/model"
)

// FileName is both the manifest and the marker of a project root.
const FileName = "Cargo.toml"

type rawPermissions struct {
	InheritEnv any `toml:"inherit-env"`
}

type rawTaskDetail struct {
	Path        string          `toml:"path"`
	Permissions *rawPermissions `toml:"permissions"`
}

// legacyTaskDetail is the older package.metadata.tasks shape where
// inherit-env sits directly on the task.
type legacyTaskDetail struct {
	Path       string `toml:"path"`
	InheritEnv any    `toml:"inherit-env"`
}

type legacyMetadata struct {
	Tasks            map[string]legacyTaskDetail `toml:"tasks"`
	TaskDependencies map[string]string           `toml:"task-dependencies"`
}

type legacyPackage struct {
	Metadata *legacyMetadata `toml:"metadata"`
}

type document struct {
	Tasks            map[string]rawTaskDetail `toml:"tasks"`
	TaskDependencies map[string]string        `toml:"task-dependencies"`
	Package          *legacyPackage           `toml:"package"`
}

// Load reads and validates the manifest at path.
func Load(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Parse(path, data)
}

// Parse decodes manifest content. path is only used in error messages.
func Parse(path string, data []byte) (model.Manifest, error) {
	var doc document
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		var strict *toml.StrictMissingError
		if !errors.As(err, &strict) {
			return model.Manifest{}, decodeError(path, err)
		}
		// Only task and permission records are strict; the rest of
		// Cargo.toml belongs to cargo.
		if perr := strictTaskErrors(path, strict); perr != nil {
			return model.Manifest{}, perr
		}
	}

	if doc.Tasks != nil {
		return translateFlat(path, doc)
	}
	if meta := legacyTasks(doc); meta != nil {
		return translateLegacy(path, *meta, doc.TaskDependencies)
	}
	return model.Manifest{
		Tasks:            map[string]model.TaskDetail{},
		TaskDependencies: copyDeps(doc.TaskDependencies),
	}, nil
}

func decodeError(path string, err error) error {
	var de *toml.DecodeError
	if errors.As(err, &de) {
		row, col := de.Position()
		return &ParseError{
			Path:    path,
			Key:     strings.Join(de.Key(), "."),
			Message: fmt.Sprintf("%s (line %d, column %d)", de.Error(), row, col),
			Err:     err,
		}
	}
	return &ParseError{Path: path, Message: err.Error(), Err: err}
}

func strictTaskErrors(path string, strict *toml.StrictMissingError) error {
	pe := &parseErrors{}
	for _, e := range strict.Errors {
		key := e.Key()
		if !isTaskRecordKey(key) {
			continue
		}
		pe.add(path, strings.Join(key, "."), "unknown field")
	}
	return pe.err()
}

// isTaskRecordKey reports whether key lies inside a tasks.<name> record,
// flat or legacy.
func isTaskRecordKey(key []string) bool {
	if len(key) >= 3 && key[0] == "tasks" {
		return true
	}
	return len(key) >= 5 && key[0] == "package" && key[1] == "metadata" && key[2] == "tasks"
}

func translateFlat(path string, doc document) (model.Manifest, error) {
	pe := &parseErrors{}
	tasks := make(map[string]model.TaskDetail, len(doc.Tasks))
	for _, name := range sortedKeys(doc.Tasks) {
		raw := doc.Tasks[name]
		detail := model.TaskDetail{Path: raw.Path}
		if raw.Permissions != nil {
			key := "tasks." + name + ".permissions.inherit-env"
			decl, err := decodeInheritEnv(raw.Permissions.InheritEnv)
			if err != nil {
				pe.add(path, key, err.Error())
				continue
			}
			detail.Permissions = &model.Permissions{InheritEnv: decl}
		}
		tasks[name] = detail
	}
	if err := pe.err(); err != nil {
		return model.Manifest{}, err
	}
	return model.Manifest{Tasks: tasks, TaskDependencies: copyDeps(doc.TaskDependencies)}, nil
}

// legacyTasks returns the package.metadata table only when it carries task
// keys. Other tools keep their own tables under package.metadata.
func legacyTasks(doc document) *legacyMetadata {
	if doc.Package == nil || doc.Package.Metadata == nil {
		return nil
	}
	meta := doc.Package.Metadata
	if meta.Tasks == nil && meta.TaskDependencies == nil {
		return nil
	}
	return meta
}

// translateLegacy converts the package.metadata layout. A top-level
// task-dependencies table takes precedence over the nested one.
func translateLegacy(path string, meta legacyMetadata, flatDeps map[string]string) (model.Manifest, error) {
	pe := &parseErrors{}
	tasks := make(map[string]model.TaskDetail, len(meta.Tasks))
	for _, name := range sortedKeys(meta.Tasks) {
		raw := meta.Tasks[name]
		detail := model.TaskDetail{Path: raw.Path}
		if raw.InheritEnv != nil {
			key := "package.metadata.tasks." + name + ".inherit-env"
			decl, err := decodeInheritEnv(raw.InheritEnv)
			if err != nil {
				pe.add(path, key, err.Error())
				continue
			}
			detail.Permissions = &model.Permissions{InheritEnv: decl}
		}
		tasks[name] = detail
	}
	if err := pe.err(); err != nil {
		return model.Manifest{}, err
	}
	deps := meta.TaskDependencies
	if flatDeps != nil {
		deps = flatDeps
	}
	return model.Manifest{Tasks: tasks, TaskDependencies: copyDeps(deps)}, nil
}

// decodeInheritEnv maps the decoder's generic value onto the two allowed
// shapes. A missing key yields nil.
func decodeInheritEnv(v any) (model.InheritEnv, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return model.InheritEnvBool(val), nil
	case []any:
		names := make(model.InheritEnvList, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d must be a string, got %T", i, item)
			}
			names = append(names, s)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("must be a boolean or a list of variable names, got %T", v)
	}
}

func copyDeps(deps map[string]string) map[string]string {
	out := make(map[string]string, len(deps))
	for k, v := range deps {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
