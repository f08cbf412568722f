package security

import (
	"fmt"
	"os"
)

const (
	// PermLogFile is for the deployment log.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the run history database.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories the daemon creates.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermDirectory os.FileMode = 0750
)

// CreateSecureDir creates a directory (and parents) if absent.
// An existing directory keeps its permissions; a shared logs/ directory in
// the working tree is often group-managed.
func CreateSecureDir(path string, perm os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	// MkdirAll is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// CheckConfigFilePermissions returns an error when a file that may contain the
// webhook secret is writable by anyone.
func CheckConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if perm := info.Mode().Perm(); IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}
