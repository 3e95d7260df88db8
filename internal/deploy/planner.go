package deploy

import (
	"fmt"
	"time"

	"shipbox/internal/plan"
	"shipbox/internal/security"
	"shipbox/internal/supervisor"
	"shipbox/internal/syncx"
	"shipbox/internal/target"
)

// BuildPlan assembles the standard deployment plan for a target:
// ensure-runtime, sync-source, install-deps, supervise-restart. Every step
// is idempotent so the whole plan is safely re-runnable.
func BuildPlan(t *target.Target, sourceDir string) (*plan.Plan, error) {
	appPath, err := security.SanitizeRemotePath(t.AppPath)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}

	sup, err := supervisor.New(t)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}

	stepTimeout := time.Duration(t.StepTimeout) * time.Second
	syncer := syncx.NewSyncer(stepTimeout)

	p := &plan.Plan{Steps: []plan.Step{
		{
			Name:    "ensure-runtime",
			Command: runtimeCommand(t, appPath),
			Fatal:   true,
		},
		syncer.Step(t, sourceDir),
		{
			Name:    "install-deps",
			Command: fmt.Sprintf("cd %s && %s", appPath, t.InstallCommand),
			Fatal:   true,
		},
		sup.Step(),
	}}

	// Every step, remote or local, is bounded by the target's step timeout so
	// a hung command fails the run instead of blocking it forever.
	for i := range p.Steps {
		p.Steps[i].Timeout = stepTimeout
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}
	return p, nil
}

// runtimeCommand returns the configured runtime bootstrap, or a default that
// installs Node.js (and pm2 when it is the supervisor) only when missing.
func runtimeCommand(t *target.Target, appPath string) string {
	if t.RuntimeCommand != "" {
		return t.RuntimeCommand
	}

	cmd := fmt.Sprintf("mkdir -p %s && (command -v node >/dev/null 2>&1 || "+
		"(curl -fsSL https://deb.nodesource.com/setup_lts.x | sudo -E bash - && sudo apt-get install -y nodejs))",
		appPath)
	if t.Supervisor == target.SupervisorPM2 {
		cmd += " && (command -v pm2 >/dev/null 2>&1 || sudo npm install -g pm2)"
	}
	return cmd
}
