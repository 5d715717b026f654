package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// projectDirName is the hidden directory holding per-project state
const projectDirName = ".codecontext"

// licenseFileName is the versioned entitlement cache record
const licenseFileName = "license.json"

// ProjectDir returns the per-project state directory, creating it if needed.
// All local license state is scoped to the current working directory so that
// separate projects carry separate entitlement caches.
func ProjectDir() (string, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}

	dir := filepath.Join(workDir, projectDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create project directory %s: %w", dir, err)
	}

	return dir, nil
}

// LicensePath returns the resolved path of the entitlement cache file
func LicensePath() (string, error) {
	dir, err := ProjectDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, licenseFileName), nil
}

// FileExists reports whether the given path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
