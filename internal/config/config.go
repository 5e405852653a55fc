package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the workspace root when no --config is given.
const DefaultFileName = "mirin.yaml"

// Config holds all mirin configuration.
type Config struct {
	Listen          string   `yaml:"listen"`
	Prefix          string   `yaml:"prefix"`
	Separator       string   `yaml:"separator"`
	Scheduler       string   `yaml:"scheduler"`
	SourceDir       string   `yaml:"source_dir"`
	OutputDirs      []string `yaml:"output_dirs"`
	Manifest        string   `yaml:"manifest"`
	ModuleBuild     Command  `yaml:"module_build"`
	SchedulerBuild  Command  `yaml:"scheduler_build"`
	ArtifactDir     string   `yaml:"artifact_dir"`
	BinaryArtifact  string   `yaml:"binary_artifact"`
	LoaderArtifact  string   `yaml:"loader_artifact"`
	QueueSize       int      `yaml:"queue_size"`
	HistorySize     int      `yaml:"history_size"`
	LogLevel        string   `yaml:"log_level"`
	DiagnosticLines int      `yaml:"diagnostic_lines"`
}

// Command is an external program invocation.
type Command struct {
	Name string   `yaml:"command"`
	Args []string `yaml:"args"`
}

func (c Command) String() string {
	s := c.Name
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// Load reads and parses the YAML config file.
// Falls back to defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads DefaultFileName from the workspace root.
func LoadFromDir(root string) (*Config, error) {
	return Load(filepath.Join(root, DefaultFileName))
}

// WriteDefault writes the default configuration to DefaultFileName in dir.
// An existing file is left untouched unless force is set.
func WriteDefault(dir string, force bool) (string, error) {
	path := filepath.Join(dir, DefaultFileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write config %s: %w", path, err)
	}
	return path, nil
}

// Validate rejects configurations the build pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Prefix == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}
	if c.Separator == "" {
		errs = append(errs, errors.New("separator must not be empty"))
	}
	if c.SourceDir == "" {
		errs = append(errs, errors.New("source_dir must not be empty"))
	}
	if c.ModuleBuild.Name == "" {
		errs = append(errs, errors.New("module_build.command must not be empty"))
	}
	if c.SchedulerBuild.Name == "" {
		errs = append(errs, errors.New("scheduler_build.command must not be empty"))
	}
	if c.BinaryArtifact == "" || c.LoaderArtifact == "" {
		errs = append(errs, errors.New("binary_artifact and loader_artifact must be set"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Default returns the configuration for a stock beacon DAO checkout.
func Default() *Config {
	return &Config{
		Listen:     "0.0.0.0:3000",
		Prefix:     "beacon_dao",
		Separator:  "-",
		Scheduler:  "scheduler",
		SourceDir:  "src",
		OutputDirs: []string{"target", "pkg"},
		Manifest:   "Cargo.toml",
		ModuleBuild: Command{
			Name: "cargo",
			Args: []string{"build", "--target", "wasm32-unknown-unknown", "--release", "--features", "module"},
		},
		SchedulerBuild: Command{
			Name: "cargo",
			Args: []string{"make", "build_scheduler"},
		},
		ArtifactDir:     "beacon_dao-scheduler/pkg",
		BinaryArtifact:  "beacon_dao_scheduler_bg.wasm",
		LoaderArtifact:  "beacon_dao_scheduler.js",
		QueueSize:       16,
		HistorySize:     50,
		LogLevel:        "info",
		DiagnosticLines: 40,
	}
}
