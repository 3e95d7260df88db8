// Package supervisor abstracts restart-or-start semantics for the remote
// long-lived process. A redeploy prefers restart so a running app picks up
// the new release; if the process was never registered, it is started fresh.
package supervisor

import (
	"context"
	"fmt"

	"shipbox/internal/plan"
	"shipbox/internal/target"
)

// SupervisorError indicates both the restart and the start attempt failed.
type SupervisorError struct {
	App           string
	RestartOutput string
	StartOutput   string
}

func (e *SupervisorError) Error() string {
	return fmt.Sprintf("supervisor could not restart or start process %q", e.App)
}

// Supervisor issues process-control commands for one application over the
// remote runner.
type Supervisor struct {
	kind       string
	app        string
	entrypoint string
	appPath    string
}

// New builds a supervisor adapter for the target's configured process
// manager.
func New(t *target.Target) (*Supervisor, error) {
	switch t.Supervisor {
	case target.SupervisorPM2, target.SupervisorSystemd:
	default:
		return nil, fmt.Errorf("unsupported supervisor %q", t.Supervisor)
	}
	return &Supervisor{
		kind:       t.Supervisor,
		app:        t.AppName,
		entrypoint: t.Entrypoint,
		appPath:    t.AppPath,
	}, nil
}

// Step returns the supervise-restart plan step.
func (s *Supervisor) Step() plan.Step {
	return plan.Step{
		Name:  "supervise-restart",
		Fatal: true,
		Func:  s.EnsureRunning,
	}
}

// EnsureRunning attempts a restart of the named process; if that fails
// because the process is not registered, it starts it. Returns a
// SupervisorError only when both attempts fail.
func (s *Supervisor) EnsureRunning(ctx context.Context, r plan.Runner) (*plan.Result, error) {
	restartRes, err := r.Run(ctx, s.restartCommand())
	if err != nil {
		return restartRes, err
	}
	if restartRes.OK() {
		return restartRes, nil
	}

	startRes, err := r.Run(ctx, s.startCommand())
	if err != nil {
		return startRes, err
	}
	if startRes.OK() {
		return startRes, nil
	}

	return startRes, &SupervisorError{
		App:           s.app,
		RestartOutput: restartRes.Output(),
		StartOutput:   startRes.Output(),
	}
}

func (s *Supervisor) restartCommand() string {
	switch s.kind {
	case target.SupervisorSystemd:
		return fmt.Sprintf("sudo systemctl restart %s", s.app)
	default:
		return fmt.Sprintf("pm2 restart %s --update-env", s.app)
	}
}

func (s *Supervisor) startCommand() string {
	switch s.kind {
	case target.SupervisorSystemd:
		return fmt.Sprintf("sudo systemctl start %s", s.app)
	default:
		return fmt.Sprintf("cd %s && pm2 start %s --name %s", s.appPath, s.entrypoint, s.app)
	}
}
