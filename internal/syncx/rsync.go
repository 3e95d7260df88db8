// Package syncx mirrors the local source tree to a target's remote app path
// with rsync over ssh: exclusion list, delete-on-sync, and exit-code
// classification so partial transfers surface as SyncError rather than a
// generic step failure.
package syncx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shipbox/internal/plan"
	"shipbox/internal/sshx"
	"shipbox/internal/target"
	"shipbox/pkg/cmdutil"
)

// rsync exit codes the syncer classifies. 23/24/30 indicate a partial or
// interrupted transfer; 255 is the ssh tunnel itself failing.
// See rsync(1) EXIT VALUES.
const (
	exitPartialTransfer = 23
	exitVanishedFiles   = 24
	exitTransferTimeout = 30
	exitSSHFailure      = 255
)

// SyncError indicates the source tree was only partially mirrored to the
// target. Re-running the plan resumes the transfer.
type SyncError struct {
	Target   string
	ExitCode int
	Output   string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("partial transfer to target %s (rsync exit %d)", e.Target, e.ExitCode)
}

// Syncer builds and runs the rsync invocation for one target.
type Syncer struct {
	timeout time.Duration
}

// NewSyncer creates a syncer with a per-run timeout.
func NewSyncer(timeout time.Duration) *Syncer {
	return &Syncer{timeout: timeout}
}

// Command returns the rsync argv used to mirror sourceDir to the target.
// Trailing slash on the source makes rsync copy contents, not the directory
// itself; --delete keeps the remote tree an exact mirror.
func (s *Syncer) Command(t *target.Target, sourceDir string) []string {
	argv := []string{"rsync", "-az", "--delete"}
	for _, exclude := range t.Excludes {
		argv = append(argv, "--exclude", exclude)
	}
	argv = append(argv,
		"-e", s.remoteShell(t),
		strings.TrimRight(sourceDir, "/")+"/",
		fmt.Sprintf("%s@%s:%s/", t.User, t.Host, strings.TrimRight(t.AppPath, "/")),
	)
	return argv
}

// Step returns the sync-source plan step for a target. It runs on the
// control machine, not through the remote runner.
func (s *Syncer) Step(t *target.Target, sourceDir string) plan.Step {
	return plan.Step{
		Name:  "sync-source",
		Fatal: true,
		Func: func(ctx context.Context, _ plan.Runner) (*plan.Result, error) {
			return s.Sync(ctx, t, sourceDir)
		},
	}
}

// Sync mirrors sourceDir to the target and classifies the outcome.
func (s *Syncer) Sync(ctx context.Context, t *target.Target, sourceDir string) (*plan.Result, error) {
	argv := s.Command(t, sourceDir)

	res, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Timeout: s.timeout}, argv)
	if err != nil {
		return nil, fmt.Errorf("rsync: %w", err)
	}

	result := &plan.Result{
		ExitCode: res.ExitCode,
		Stdout:   strings.TrimRight(string(res.Stdout), "\n"),
		Stderr:   strings.TrimRight(string(res.Stderr), "\n"),
		Duration: res.Duration,
	}

	return result, classifyExit(t, result)
}

// classifyExit maps an rsync exit code to the typed error callers branch on:
// partial transfers become SyncError, a failed ssh tunnel becomes
// UnreachableError. Other non-zero exits are left to the executor as plain
// step failures with the captured output.
func classifyExit(t *target.Target, result *plan.Result) error {
	switch result.ExitCode {
	case exitPartialTransfer, exitVanishedFiles, exitTransferTimeout:
		return &SyncError{Target: t.Name, ExitCode: result.ExitCode, Output: result.Output()}
	case exitSSHFailure:
		return &sshx.UnreachableError{
			Host: t.Host,
			Err:  fmt.Errorf("rsync ssh transport failed: %s", result.Output()),
		}
	default:
		return nil
	}
}

// remoteShell builds the ssh command rsync tunnels through, pinning the
// same key and host-key policy the session channel uses.
func (s *Syncer) remoteShell(t *target.Target) string {
	parts := []string{"ssh", "-i", t.KeyFile, "-p", fmt.Sprintf("%d", t.Port)}
	if t.InsecureHostKey {
		parts = append(parts, "-o", "StrictHostKeyChecking=no")
	} else if t.KnownHostsFile != "" {
		parts = append(parts, "-o", "UserKnownHostsFile="+t.KnownHostsFile)
	}
	return strings.Join(parts, " ")
}
