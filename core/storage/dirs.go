// Package storage provides platform-native directory resolution with XDG support.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const appName = "nexus"

// File extensions for the artifacts the CLI writes.
const (
	DatasetExt    = ".db"
	CheckpointExt = ".ckpt"
)

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (config.yaml)
	Data   string // Persistent artifacts (datasets, checkpoints)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .nexus/
	Config string // .nexus/config.yaml (committed)
	Local  string // .nexus/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	dirs := &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
	}
	return dirs, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// A zero perm means 0755.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}

// EnsureParent creates the directory that will hold path.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path), 0755)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// DatasetPath resolves a dataset reference. Anything that looks like a path
// (absolute, contains a separator, or carries an extension) is returned
// unchanged; a bare name lives under Data/datasets.
func (d *Dirs) DatasetPath(ref string) string {
	return d.artifactPath(ref, "datasets", DatasetExt)
}

// CheckpointPath resolves a checkpoint reference the same way DatasetPath does.
func (d *Dirs) CheckpointPath(ref string) string {
	return d.artifactPath(ref, "checkpoints", CheckpointExt)
}

func (d *Dirs) artifactPath(ref, sub, ext string) string {
	if isPath(ref) {
		return ref
	}
	return d.DataDir(sub, ref+ext)
}

func isPath(ref string) bool {
	return filepath.IsAbs(ref) ||
		strings.ContainsRune(ref, os.PathSeparator) ||
		strings.ContainsRune(ref, '/') ||
		filepath.Ext(ref) != ""
}
