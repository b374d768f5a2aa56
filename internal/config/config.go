// Package config layers cargo-task settings: built-in defaults, then the
// project's .cargo-task.yaml, then CARGO_TASK_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/msageha/cargo-task/internal/model"
)

const (
	FileName  = ".cargo-task.yaml"
	EnvPrefix = "CARGO_TASK"
)

// Keys, in the order they appear in the file.
const (
	KeyLogLevel        = "log_level"
	KeyCompiler        = "compiler"
	KeyToolchain       = "toolchain"
	KeyTarget          = "target"
	KeyOutputDir       = "output_dir"
	KeyPackageName     = "package_name"
	KeyEdition         = "edition"
	KeyAllTasks        = "all_tasks"
	KeyWatchDebounceMs = "watch_debounce_ms"
)

// FlagNames maps config keys to the command-line flags that override them.
var FlagNames = map[string]string{
	KeyLogLevel:        "log-level",
	KeyCompiler:        "compiler",
	KeyToolchain:       "toolchain",
	KeyTarget:          "target",
	KeyOutputDir:       "output-dir",
	KeyAllTasks:        "all-tasks",
	KeyWatchDebounceMs: "watch-debounce-ms",
}

var (
	validEditions  = []string{"2015", "2018", "2021", "2024"}
	validLogLevels = []string{"debug", "info", "warn", "warning", "error"}
	packageNameRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// Load resolves the configuration for the project at root. root may be
// empty when no project was found; flags may be nil.
func Load(root string, flags *pflag.FlagSet) (model.Config, error) {
	v := viper.New()
	setDefaults(v, model.DefaultConfig())

	v.SetConfigType("yaml")
	if root != "" {
		path := filepath.Join(root, FileName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return model.Config{}, fmt.Errorf("read %s: %w", FileName, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return model.Config{}, fmt.Errorf("stat %s: %w", FileName, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagNames {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return model.Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	if errs := Validate(cfg); errs != nil {
		return model.Config{}, errs
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d model.Config) {
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyCompiler, d.Compiler)
	v.SetDefault(KeyToolchain, d.Toolchain)
	v.SetDefault(KeyTarget, d.Target)
	v.SetDefault(KeyOutputDir, d.OutputDir)
	v.SetDefault(KeyPackageName, d.PackageName)
	v.SetDefault(KeyEdition, d.Edition)
	v.SetDefault(KeyAllTasks, d.AllTasks)
	v.SetDefault(KeyWatchDebounceMs, d.WatchDebounceMs)
}

// Validate returns nil when cfg is usable.
func Validate(cfg model.Config) *ValidationErrors {
	errs := &ValidationErrors{}

	if !slices.Contains(validLogLevels, strings.ToLower(cfg.LogLevel)) {
		errs.Add(KeyLogLevel, fmt.Sprintf("unknown level %q", cfg.LogLevel))
	}
	if cfg.Compiler != model.CompilerCargo && cfg.Compiler != model.CompilerRustc {
		errs.Add(KeyCompiler, fmt.Sprintf("must be %s or %s, got %q", model.CompilerCargo, model.CompilerRustc, cfg.Compiler))
	}
	if strings.HasPrefix(cfg.Toolchain, "+") {
		errs.Add(KeyToolchain, "give the toolchain name without the leading +")
	}
	if strings.TrimSpace(cfg.Target) == "" {
		errs.Add(KeyTarget, "must not be empty")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		errs.Add(KeyOutputDir, "must not be empty")
	}
	if !packageNameRe.MatchString(cfg.PackageName) {
		errs.Add(KeyPackageName, fmt.Sprintf("%q is not a valid package name", cfg.PackageName))
	}
	if !slices.Contains(validEditions, cfg.Edition) {
		errs.Add(KeyEdition, fmt.Sprintf("unknown edition %q", cfg.Edition))
	}
	if cfg.WatchDebounceMs < 0 {
		errs.Add(KeyWatchDebounceMs, "must not be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
