package config

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the base directory.
const HomeEnv = "COURSEMATE_HOME"

// Paths are the on-disk locations coursemate reads and writes.
type Paths struct {
	Base   string
	Config string
	Data   string
}

// ResolvePaths roots everything at $COURSEMATE_HOME, or ~/.coursemate.
func ResolvePaths() (Paths, error) {
	base := os.Getenv(HomeEnv)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".coursemate")
	}
	return PathsAt(base), nil
}

// PathsAt lays out the standard files under base.
func PathsAt(base string) Paths {
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
	}
}

// EnsureDirs creates the base and data directories.
func (p Paths) EnsureDirs() error {
	return os.MkdirAll(p.Data, 0o700)
}

// DatabasePath resolves store.path. Empty means data/coursemate.db and a
// leading ~/ is expanded.
func (p Paths) DatabasePath(cfg StoreConfig) string {
	switch {
	case cfg.Path == "":
		return filepath.Join(p.Data, "coursemate.db")
	case strings.HasPrefix(cfg.Path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, cfg.Path[2:])
		}
	}
	return cfg.Path
}
