package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	targetPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	repoPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+$`)
)

// ValidateBranchName ensures a branch name is safe for use in remote
// commands. Prevents command injection through branch names.
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

// ValidateTargetName ensures a target name is safe for use in URLs, file
// paths, and history records.
func ValidateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("target name cannot start with '-' or '.'")
	}
	if !targetPattern.MatchString(name) {
		return fmt.Errorf("target name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateRepoName ensures an "owner/name" GitHub repository reference is
// well formed.
func ValidateRepoName(repo string) error {
	if repo == "" {
		return fmt.Errorf("repository cannot be empty")
	}
	if !repoPattern.MatchString(repo) {
		return fmt.Errorf("repository must be in owner/name form")
	}
	return nil
}

// SanitizeRemotePath validates a path destined for a remote shell command.
// The path must be absolute and free of traversal elements and shell
// metacharacters; remote commands interpolate it directly.
func SanitizeRemotePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("remote path must be absolute: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("remote path contains traversal elements: %s", path)
	}
	if strings.ContainsAny(path, " \t\n;&|$`'\"(){}<>*?[]\\") {
		return "", fmt.Errorf("remote path contains unsafe characters: %s", path)
	}
	return filepath.Clean(path), nil
}
