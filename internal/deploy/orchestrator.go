package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shipbox/internal/plan"
	"shipbox/internal/sshx"
	"shipbox/internal/target"
)

// DefaultMaxParallel bounds how many targets deploy at once in a fan-out.
const DefaultMaxParallel = 4

// ErrRunInProgress is reported when a deploy is requested for a target that
// already has a run in flight.
var ErrRunInProgress = errors.New("deployment already in progress")

// Connection is an open remote-execution channel that must be closed after
// the run.
type Connection interface {
	plan.Runner
	Close() error
}

// Dialer opens a connection to a target. Swappable in tests.
type Dialer func(ctx context.Context, t *target.Target) (Connection, error)

// SSHDialer connects over SSH with the target's key material.
func SSHDialer(ctx context.Context, t *target.Target) (Connection, error) {
	return sshx.Dial(ctx, sshx.Config{
		Host:                  t.Host,
		Port:                  t.Port,
		User:                  t.User,
		KeyFile:               t.KeyFile,
		KnownHostsFile:        t.KnownHostsFile,
		InsecureIgnoreHostKey: t.InsecureHostKey,
	})
}

// Orchestrator coordinates deployment runs: one connection and one executor
// per target, at most one in-flight run per target.
type Orchestrator struct {
	dialer      Dialer
	locks       *LockManager
	logger      *slog.Logger
	maxParallel int
}

// NewOrchestrator creates an orchestrator using the given dialer.
func NewOrchestrator(dialer Dialer, locks *LockManager, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		dialer:      dialer,
		locks:       locks,
		logger:      logger,
		maxParallel: DefaultMaxParallel,
	}
}

// Deploy runs the target's plan over a fresh connection. It refuses to start
// if another run for the same target is in flight.
func (o *Orchestrator) Deploy(ctx context.Context, t *target.Target, p *plan.Plan) *Report {
	// Runs that fail before reaching the executor still need a distinct run
	// ID: history declares run_id UNIQUE.
	report := &Report{RunID: uuid.New(), Target: t.Name}

	if !o.locks.TryLock(t.Name) {
		report.Err = fmt.Errorf("target %s: %w", t.Name, ErrRunInProgress)
		return report
	}
	defer o.locks.Unlock(t.Name)

	conn, err := o.dialer(ctx, t)
	if err != nil {
		report.Err = err
		return report
	}
	defer conn.Close()

	return NewExecutor(conn, o.logger).Execute(ctx, t.Name, p)
}

// DeployAll fans out across targets, one independent executor per target.
// A target's failure never aborts another target's run; the returned reports
// are in input order and the caller decides overall success.
func (o *Orchestrator) DeployAll(ctx context.Context, targets []*target.Target, sourceDir string) []*Report {
	reports := make([]*Report, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)

	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			p, err := BuildPlan(t, sourceDir)
			if err != nil {
				reports[i] = &Report{RunID: uuid.New(), Target: t.Name, Err: err}
				return nil
			}
			reports[i] = o.Deploy(ctx, t, p)
			return nil
		})
	}

	// Goroutines report failures through their Report, never as errors, so
	// one target cannot cancel the group for the others.
	g.Wait()

	return reports
}

// Failed returns the names of targets whose reports ended in error.
func Failed(reports []*Report) []string {
	var failed []string
	for _, r := range reports {
		if r != nil && !r.OK() {
			failed = append(failed, r.Target)
		}
	}
	return failed
}
