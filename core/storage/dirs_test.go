package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestResolveDirs(t *testing.T) {
	resetGlobalDirs()

	dirs, err := ResolveDirs()
	if err != nil {
		t.Fatalf("ResolveDirs failed: %v", err)
	}

	if dirs.Config == "" {
		t.Error("Config dir should not be empty")
	}
	if dirs.Data == "" {
		t.Error("Data dir should not be empty")
	}

	if !strings.Contains(dirs.Data, "nexus") {
		t.Errorf("Data dir should contain 'nexus': %s", dirs.Data)
	}
}

func TestResolveDirsXDGOverride(t *testing.T) {
	resetGlobalDirs()
	t.Cleanup(resetGlobalDirs)

	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	dirs, err := ResolveDirs()
	if err != nil {
		t.Fatalf("ResolveDirs failed: %v", err)
	}

	expected := filepath.Join(tmpDir, "nexus")
	if dirs.Data != expected {
		t.Errorf("XDG override failed: got %s, want %s", dirs.Data, expected)
	}
}

func TestResolveProjectDirs(t *testing.T) {
	projectRoot := "/test/project"
	dirs := ResolveProjectDirs(projectRoot)

	if dirs.Root != filepath.Join(projectRoot, ".nexus") {
		t.Errorf("Root: got %s", dirs.Root)
	}
	if dirs.Config != filepath.Join(projectRoot, ".nexus", "config.yaml") {
		t.Errorf("Config: got %s", dirs.Config)
	}
	if dirs.Local != filepath.Join(projectRoot, ".nexus", "local") {
		t.Errorf("Local: got %s", dirs.Local)
	}
}

func TestEnsureDir(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "test", "nested", "dir")

	if err := EnsureDir(testDir, 0); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(testDir)
	if err != nil {
		t.Fatalf("Dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("Created path is not a directory")
	}

	if err := EnsureDir(testDir, 0755); err != nil {
		t.Error("EnsureDir should be idempotent")
	}
}

func TestEnsureParent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a", "b", "weights.ckpt")

	if err := EnsureParent(file); err != nil {
		t.Fatalf("EnsureParent failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(file)); err != nil {
		t.Errorf("parent not created: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("file itself should not be created")
	}
}

func TestDirsHelperMethods(t *testing.T) {
	dirs := &Dirs{
		Config: "/config",
		Data:   "/data",
	}

	if got := dirs.ConfigDir("sub"); got != "/config/sub" {
		t.Errorf("ConfigDir: got %s, want /config/sub", got)
	}
	if got := dirs.DataDir("a", "b"); got != "/data/a/b" {
		t.Errorf("DataDir: got %s, want /data/a/b", got)
	}
}

func TestArtifactPaths(t *testing.T) {
	dirs := &Dirs{Data: "/data"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"bare dataset name", dirs.DatasetPath("borrowers"), "/data/datasets/borrowers.db"},
		{"bare checkpoint name", dirs.CheckpointPath("weights"), "/data/checkpoints/weights.ckpt"},
		{"absolute path", dirs.DatasetPath("/tmp/x.db"), "/tmp/x.db"},
		{"relative path", dirs.CheckpointPath("out/w"), "out/w"},
		{"file with extension", dirs.CheckpointPath("gcn.pt"), "gcn.pt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func resetGlobalDirs() {
	globalDirs = nil
	globalDirsOnce = sync.Once{}
	globalDirsErr = nil
}
