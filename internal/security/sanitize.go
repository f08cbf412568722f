package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	branchPattern  = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	servicePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	remotePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateBranchName ensures branch name is safe for git operations.
// Prevents option injection through branch names.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateRemoteName ensures a git remote name cannot be read as an option.
func ValidateRemoteName(remote string) error {
	if remote == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if strings.HasPrefix(remote, "-") {
		return fmt.Errorf("remote name cannot start with '-'")
	}
	if !remotePattern.MatchString(remote) {
		return fmt.Errorf("remote name contains invalid characters")
	}
	return nil
}

// ValidateServiceName ensures a compose service name is a plain identifier.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if !servicePattern.MatchString(name) {
		return fmt.Errorf("service name %q contains invalid characters (only a-z, A-Z, 0-9, _, ., - allowed, must not start with a symbol)", name)
	}
	return nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
func SanitizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("path contains traversal elements: %s", path)
		}
	}

	return filepath.Clean(path), nil
}
