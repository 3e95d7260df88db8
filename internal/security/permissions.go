package security

import (
	"fmt"
	"os"
)

const (
	// PermSSHKey is for private SSH keys.
	// rw------- (0600): only the owner can read or write.
	PermSSHKey os.FileMode = 0600

	// PermLogFile is for log files that may contain deployment output.
	// rw-r----- (0640).
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the deployment history database.
	// rw-r----- (0640).
	PermDBFile os.FileMode = 0640
)

// CheckPrivateKeyPerms rejects private key files readable by group or
// others. A loose key file is an authentication credential leak.
func CheckPrivateKeyPerms(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat key file: %w", err)
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("private key %s has permissions %04o, want at most %04o", path, perm, PermSSHKey)
	}

	return nil
}
