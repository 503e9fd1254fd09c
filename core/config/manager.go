// Package config loads layered nexus settings: built-in defaults, the
// project file, the user file, the gitignored local file and finally
// NEXUS_* environment variables. Later layers only override the keys they
// set, so an explicit zero (homophily: 0, dropout: 0) is honoured.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/generator"
	"github.com/adalundhe/nexus/core/storage"
	"github.com/adalundhe/nexus/core/trainer"
	"gopkg.in/yaml.v3"
)

const envPrefix = "NEXUS_"

var ErrInvalidConfig = errors.New("invalid config")

type Manager struct {
	config      atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Generator generator.Config `yaml:"generator"`
	Model     gcn.Config       `yaml:"model"`
	Training  TrainingConfig   `yaml:"training"`
	Paths     PathsConfig      `yaml:"paths"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type TrainingConfig struct {
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	LogEvery     int     `yaml:"log_every"`
	Seed         uint64  `yaml:"seed"`
}

// PathsConfig names the artifacts. Bare names resolve under the data
// directory; anything path-like is used as given.
type PathsConfig struct {
	DataDir    string `yaml:"data_dir"`
	Dataset    string `yaml:"dataset"`
	Checkpoint string `yaml:"checkpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	if projectRoot == "" {
		projectRoot = "."
	}
	m := &Manager{
		dirs:        dirs,
		projectRoot: projectRoot,
	}
	m.config.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	tc := trainer.DefaultConfig()
	return &Config{
		Generator: generator.DefaultConfig(),
		Model:     gcn.DefaultConfig(),
		Training: TrainingConfig{
			Epochs:       tc.Epochs,
			LearningRate: tc.LearningRate,
			WeightDecay:  tc.WeightDecay,
			LogEvery:     tc.LogEvery,
			Seed:         tc.Seed,
		},
		Paths: PathsConfig{
			Dataset:    "borrowers",
			Checkpoint: "gcn",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Trainer assembles the optimisation settings.
func (c *Config) Trainer() trainer.Config {
	return trainer.Config{
		Epochs:       c.Training.Epochs,
		LearningRate: c.Training.LearningRate,
		WeightDecay:  c.Training.WeightDecay,
		LogEvery:     c.Training.LogEvery,
		Seed:         c.Training.Seed,
		Model:        c.Model,
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("%w: generator: %w", ErrInvalidConfig, err)
	}
	if err := c.Trainer().Validate(); err != nil {
		return fmt.Errorf("%w: training: %w", ErrInvalidConfig, err)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging: unknown format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Dirs returns the directory layout, honouring paths.data_dir.
func (m *Manager) Dirs() *storage.Dirs {
	var dirs storage.Dirs
	if m.dirs != nil {
		dirs = *m.dirs
	}
	if dataDir := m.Get().Paths.DataDir; dataDir != "" {
		dirs.Data = dataDir
	}
	return &dirs
}

// DatasetPath resolves the configured dataset reference.
func (m *Manager) DatasetPath() string {
	return m.Dirs().DatasetPath(m.Get().Paths.Dataset)
}

// CheckpointPath resolves the configured checkpoint reference.
func (m *Manager) CheckpointPath() string {
	return m.Dirs().CheckpointPath(m.Get().Paths.Checkpoint)
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Load rebuilds the configuration from every layer. The previous value stays
// in place when any layer fails.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadLocalConfig(cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	if err := applyEnvironment(cfg, os.LookupEnv); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

// LoadFile layers an explicit file (the --config flag) over the current
// configuration.
func (m *Manager) LoadFile(path string) error {
	cfg := *m.Get()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := loadYAMLFile(path, &cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Store(&cfg)
	m.notifyWatchers(&cfg)
	return nil
}

// Update applies fn to a copy of the configuration and publishes it when it
// still validates.
func (m *Manager) Update(fn func(*Config)) error {
	cfg := *m.Get()
	fn(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config.Store(&cfg)
	m.notifyWatchers(&cfg)
	return nil
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return loadYAMLFile(projectDirs.Config, cfg)
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	if m.dirs == nil {
		return nil
	}
	return loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg)
}

func (m *Manager) loadLocalConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// =============================================================================
// Environment
// =============================================================================

type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"NODES", intVar(func(c *Config) *int { return &c.Generator.Nodes })},
	{"EDGES", intVar(func(c *Config) *int { return &c.Generator.Edges })},
	{"SEED", uintVar(func(c *Config) *uint64 { return &c.Generator.Seed })},
	{"HOMOPHILY", floatVar(func(c *Config) *float64 { return &c.Generator.Homophily })},
	{"HIDDEN", intVar(func(c *Config) *int { return &c.Model.Hidden })},
	{"DROPOUT", floatVar(func(c *Config) *float64 { return &c.Model.Dropout })},
	{"EPOCHS", intVar(func(c *Config) *int { return &c.Training.Epochs })},
	{"LEARNING_RATE", floatVar(func(c *Config) *float64 { return &c.Training.LearningRate })},
	{"WEIGHT_DECAY", floatVar(func(c *Config) *float64 { return &c.Training.WeightDecay })},
	{"TRAIN_SEED", uintVar(func(c *Config) *uint64 { return &c.Training.Seed })},
	{"DATA_DIR", stringVar(func(c *Config) *string { return &c.Paths.DataDir })},
	{"DATASET", stringVar(func(c *Config) *string { return &c.Paths.Dataset })},
	{"CHECKPOINT", stringVar(func(c *Config) *string { return &c.Paths.Checkpoint })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
}

// applyEnvironment overrides cfg from NEXUS_* variables. Unparseable values
// are errors rather than silently ignored.
func applyEnvironment(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(envPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", envPrefix, b.name, v, err))
		}
	}
	return errors.Join(errs...)
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func uintVar(field func(*Config) *uint64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

// =============================================================================
// Watchers
// =============================================================================

// OnChange registers fn to run after every successful load or update.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}
