package main

import (
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
)

// expandPath expands a leading tilde and environment variables in a path.
func expandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		path = s
	}
	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return strings.TrimSpace(path)
}
