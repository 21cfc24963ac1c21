package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolvePath picks the database location once at startup: fileName inside
// preferredDir if that directory can be created and written to, otherwise
// fileName inside fallbackDir.
func ResolvePath(preferredDir, fallbackDir, fileName string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("database file name is required")
	}

	if preferredDir != "" && writable(preferredDir) {
		return filepath.Join(preferredDir, fileName), nil
	}
	if fallbackDir != "" && writable(fallbackDir) {
		return filepath.Join(fallbackDir, fileName), nil
	}
	return "", fmt.Errorf("no writable storage location (tried %q and %q)", preferredDir, fallbackDir)
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
