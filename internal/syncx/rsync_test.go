package syncx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shipbox/internal/plan"
	"shipbox/internal/sshx"
	"shipbox/internal/target"
)

func syncTarget() *target.Target {
	return &target.Target{
		Name:           "web-1",
		Host:           "web-1.example.com",
		Port:           2222,
		User:           "deploy",
		KeyFile:        "/home/deploy/.ssh/id_ed25519",
		KnownHostsFile: "/home/deploy/.ssh/known_hosts",
		AppPath:        "/srv/app",
		Excludes:       []string{".git", "node_modules"},
	}
}

func TestCommand_Argv(t *testing.T) {
	s := NewSyncer(time.Minute)
	argv := s.Command(syncTarget(), "./build")

	assert.Equal(t, []string{
		"rsync", "-az", "--delete",
		"--exclude", ".git",
		"--exclude", "node_modules",
		"-e", "ssh -i /home/deploy/.ssh/id_ed25519 -p 2222 -o UserKnownHostsFile=/home/deploy/.ssh/known_hosts",
		"./build/",
		"deploy@web-1.example.com:/srv/app/",
	}, argv)
}

func TestCommand_TrailingSlashNormalization(t *testing.T) {
	s := NewSyncer(time.Minute)

	tgt := syncTarget()
	tgt.AppPath = "/srv/app/"
	argv := s.Command(tgt, "./build/")

	assert.Equal(t, "./build/", argv[len(argv)-2])
	assert.Equal(t, "deploy@web-1.example.com:/srv/app/", argv[len(argv)-1])
}

func TestCommand_InsecureHostKey(t *testing.T) {
	s := NewSyncer(time.Minute)

	tgt := syncTarget()
	tgt.InsecureHostKey = true
	tgt.KnownHostsFile = ""
	argv := s.Command(tgt, ".")

	var shell string
	for i, arg := range argv {
		if arg == "-e" {
			shell = argv[i+1]
		}
	}
	assert.Contains(t, shell, "StrictHostKeyChecking=no")
	assert.NotContains(t, shell, "UserKnownHostsFile")
}

func TestStep_Shape(t *testing.T) {
	s := NewSyncer(time.Minute)
	step := s.Step(syncTarget(), ".")

	assert.Equal(t, "sync-source", step.Name)
	assert.True(t, step.Fatal)
	assert.NotNil(t, step.Func)
	assert.Empty(t, step.Command, "sync runs locally, not through the remote runner")
}

func TestClassifyExit(t *testing.T) {
	tgt := syncTarget()

	testCases := []struct {
		name     string
		exitCode int
		check    func(t *testing.T, err error)
	}{
		{"clean exit", 0, func(t *testing.T, err error) {
			assert.NoError(t, err)
		}},
		{"partial transfer", 23, func(t *testing.T, err error) {
			var syncErr *SyncError
			assert.ErrorAs(t, err, &syncErr)
			assert.Equal(t, 23, syncErr.ExitCode)
		}},
		{"vanished files", 24, func(t *testing.T, err error) {
			var syncErr *SyncError
			assert.ErrorAs(t, err, &syncErr)
		}},
		{"transfer timeout", 30, func(t *testing.T, err error) {
			var syncErr *SyncError
			assert.ErrorAs(t, err, &syncErr)
		}},
		{"ssh transport failure", 255, func(t *testing.T, err error) {
			var unreachable *sshx.UnreachableError
			assert.ErrorAs(t, err, &unreachable)
			assert.Equal(t, tgt.Host, unreachable.Host)
		}},
		{"other failure is a plain step failure", 12, func(t *testing.T, err error) {
			assert.NoError(t, err)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyExit(tgt, &plan.Result{ExitCode: tc.exitCode, Stderr: "rsync output"})
			tc.check(t, err)
		})
	}
}

func TestSyncError_Message(t *testing.T) {
	err := &SyncError{Target: "web-1", ExitCode: 23, Output: "rsync: some files vanished"}
	assert.Contains(t, err.Error(), "web-1")
	assert.Contains(t, err.Error(), "23")

	var syncErr *SyncError
	assert.True(t, errors.As(error(err), &syncErr))
}
