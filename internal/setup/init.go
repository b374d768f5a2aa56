// Package setup scaffolds cargo-task files into a project.
package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/cargo-task/internal/config"
	"github.com/msageha/cargo-task/internal/model"
	"github.com/msageha/cargo-task/internal/task"
	atomicyaml "github.com/msageha/cargo-task/internal/yaml"
	"github.com/msageha/cargo-task/templates"
)

// ErrExists means the file to scaffold is already there. Existing files are
// never overwritten.
var ErrExists = errors.New("already exists")

// WriteConfig writes a commented .cargo-task.yaml with the default settings
// into root and returns its path.
func WriteConfig(root string) (string, error) {
	path := filepath.Join(root, config.FileName)
	if err := ensureAbsent(path); err != nil {
		return "", err
	}

	data, err := fs.ReadFile(templates.FS, "cargo-task.yaml")
	if err != nil {
		return "", fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse config template: %w", err)
	}
	if errs := config.Validate(cfg); errs != nil {
		return "", fmt.Errorf("config template: %w", errs)
	}

	if err := atomicyaml.AtomicWriteRaw(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", config.FileName, err)
	}
	return path, nil
}

// NewTask writes a starter source for name at its convention path and
// returns that path.
func NewTask(root, name string) (string, error) {
	if err := task.ValidateName(name); err != nil {
		return "", err
	}
	path := task.ConventionPath(root, name)
	if err := ensureAbsent(path); err != nil {
		return "", err
	}

	tmpl, err := template.ParseFS(templates.FS, "task.rs.tmpl")
	if err != nil {
		return "", fmt.Errorf("read task template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Name string }{name}); err != nil {
		return "", fmt.Errorf("render task template: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", task.Dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s %w", path, ErrExists)
		}
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func ensureAbsent(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return fmt.Errorf("%s %w", path, ErrExists)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}
