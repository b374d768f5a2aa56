package model

type Config struct {
	LogLevel        string `yaml:"log_level" mapstructure:"log_level"`
	Compiler        string `yaml:"compiler" mapstructure:"compiler"`
	Toolchain       string `yaml:"toolchain" mapstructure:"toolchain"`
	Target          string `yaml:"target" mapstructure:"target"`
	OutputDir       string `yaml:"output_dir" mapstructure:"output_dir"`
	PackageName     string `yaml:"package_name" mapstructure:"package_name"`
	Edition         string `yaml:"edition" mapstructure:"edition"`
	AllTasks        bool   `yaml:"all_tasks" mapstructure:"all_tasks"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
}

const (
	CompilerCargo = "cargo"
	CompilerRustc = "rustc"
)

const (
	DefaultTarget      = "wasm32-wasip1"
	DefaultOutputDir   = "target/tasks"
	DefaultPackageName = "cargo-task-workspace"
	DefaultEdition     = "2021"
)

func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		Compiler:        CompilerCargo,
		Target:          DefaultTarget,
		OutputDir:       DefaultOutputDir,
		PackageName:     DefaultPackageName,
		Edition:         DefaultEdition,
		WatchDebounceMs: 300,
	}
}
