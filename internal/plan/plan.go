package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"
)

// Result contains the outcome of a single executed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the command exited cleanly.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Output returns the combined captured output for operator display.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes a command on the deployment target and returns its result.
// A non-zero exit is not an error; errors are reserved for transport failures.
type Runner interface {
	Run(ctx context.Context, command string) (*Result, error)
}

// StepFunc is a step implementation that needs more than a single remote
// command (rsync from the control machine, restart-or-start probing).
type StepFunc func(ctx context.Context, r Runner) (*Result, error)

// Step is one idempotent operation in a deployment plan.
//
// When Func is nil, Command is executed on the target through the Runner.
// Fatal steps abort the remaining plan on failure; non-fatal failures are
// recorded and execution continues. A non-zero Timeout bounds the step's
// execution; a hung remote command fails the step instead of the whole run
// waiting forever.
type Step struct {
	Name    string
	Command string
	Func    StepFunc
	Fatal   bool
	Timeout time.Duration
}

// Execute runs the step against the given runner, enforcing the step's
// timeout when one is set.
func (s Step) Execute(ctx context.Context, r Runner) (*Result, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	if s.Func != nil {
		return s.Func(ctx, r)
	}
	return r.Run(ctx, s.Command)
}

// Describe returns a one-line description of what the step will run.
func (s Step) Describe() string {
	if s.Command != "" {
		return s.Command
	}
	return "(" + s.Name + ")"
}

// Plan is an ordered sequence of idempotent steps. Declared order is
// execution order; re-running an identical plan must be safe.
type Plan struct {
	Steps []Step
}

// Validate checks that every step is well formed: a unique name and either a
// parseable command or a step function.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	seen := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true

		if step.Func == nil {
			if step.Command == "" {
				return fmt.Errorf("step %q has neither command nor function", step.Name)
			}
			if _, err := shellquote.Split(step.Command); err != nil {
				return fmt.Errorf("step %q has an unparseable command: %w", step.Name, err)
			}
		}
	}

	return nil
}

// Names returns the step names in declared order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}
