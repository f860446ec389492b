package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveDBPath returns the absolute directory database path with a leading
// "~" expanded to the home directory.
func ResolveDBPath(cfg *Config) string {
	path := DefaultConfig().Directory.DBPath
	if cfg != nil && strings.TrimSpace(cfg.Directory.DBPath) != "" {
		path = cfg.Directory.DBPath
	}
	path = expandHomeDir(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
