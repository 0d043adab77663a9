package main

import (
	"os"
	"path/filepath"
)

// resolveClientDir picks the static client directory: the explicit flag when
// set, otherwise a "client" directory next to the working directory or the
// executable. An empty result disables static file serving.
func resolveClientDir(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cwd, err := os.Getwd(); err == nil {
		if dir, ok := resolveClientDirFrom(cwd); ok {
			return dir
		}
	}
	if exePath, err := os.Executable(); err == nil {
		if dir, ok := resolveClientDirFrom(filepath.Dir(exePath)); ok {
			return dir
		}
	}
	return ""
}

func resolveClientDirFrom(base string) (string, bool) {
	candidates := []string{
		filepath.Join(base, "client"),
		filepath.Join(base, "..", "client"),
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		return abs, true
	}
	return "", false
}
