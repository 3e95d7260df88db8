package plan

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedRunner struct {
	commands []string
	result   *Result
}

func (r *scriptedRunner) Run(ctx context.Context, command string) (*Result, error) {
	r.commands = append(r.commands, command)
	if r.result != nil {
		return r.result, nil
	}
	return &Result{ExitCode: 0}, nil
}

func TestPlanValidate(t *testing.T) {
	testCases := []struct {
		name    string
		plan    Plan
		wantErr bool
	}{
		{
			name: "valid plan",
			plan: Plan{Steps: []Step{
				{Name: "a", Command: "echo hello"},
				{Name: "b", Command: "echo world", Fatal: true},
			}},
		},
		{
			name:    "empty plan",
			plan:    Plan{},
			wantErr: true,
		},
		{
			name: "unnamed step",
			plan: Plan{Steps: []Step{
				{Command: "echo hello"},
			}},
			wantErr: true,
		},
		{
			name: "duplicate step name",
			plan: Plan{Steps: []Step{
				{Name: "a", Command: "echo hello"},
				{Name: "a", Command: "echo again"},
			}},
			wantErr: true,
		},
		{
			name: "step with neither command nor function",
			plan: Plan{Steps: []Step{
				{Name: "a"},
			}},
			wantErr: true,
		},
		{
			name: "unparseable command",
			plan: Plan{Steps: []Step{
				{Name: "a", Command: `echo "unterminated`},
			}},
			wantErr: true,
		},
		{
			name: "function step without command",
			plan: Plan{Steps: []Step{
				{Name: "a", Func: func(ctx context.Context, r Runner) (*Result, error) {
					return &Result{}, nil
				}},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestStepExecute_CommandGoesToRunner(t *testing.T) {
	runner := &scriptedRunner{}
	step := Step{Name: "a", Command: "echo hello"}

	result, err := step.Execute(context.Background(), runner)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK() {
		t.Errorf("expected OK result, got exit %d", result.ExitCode)
	}
	if len(runner.commands) != 1 || runner.commands[0] != "echo hello" {
		t.Errorf("runner saw commands %v, want [echo hello]", runner.commands)
	}
}

func TestStepExecute_FuncOverridesCommand(t *testing.T) {
	runner := &scriptedRunner{}
	called := false
	step := Step{
		Name:    "a",
		Command: "echo never",
		Func: func(ctx context.Context, r Runner) (*Result, error) {
			called = true
			return &Result{ExitCode: 3}, nil
		},
	}

	result, err := step.Execute(context.Background(), runner)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !called {
		t.Error("step func was not called")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if len(runner.commands) != 0 {
		t.Errorf("runner should not have been used, saw %v", runner.commands)
	}
}

func TestStepExecute_TimeoutBoundsHungStep(t *testing.T) {
	step := Step{
		Name:    "hung",
		Timeout: 20 * time.Millisecond,
		Func: func(ctx context.Context, r Runner) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	start := time.Now()
	_, err := step.Execute(context.Background(), &scriptedRunner{})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("step was not cut off by its timeout, ran for %v", elapsed)
	}
}

func TestResultOutput(t *testing.T) {
	testCases := []struct {
		name   string
		result Result
		want   string
	}{
		{"stdout only", Result{Stdout: "out"}, "out"},
		{"stderr only", Result{Stderr: "err"}, "err"},
		{"both", Result{Stdout: "out", Stderr: "err"}, "out\nerr"},
		{"empty", Result{}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Output(); got != tc.want {
				t.Errorf("Output() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPlanNames(t *testing.T) {
	p := Plan{Steps: []Step{
		{Name: "one", Command: "true"},
		{Name: "two", Command: "true"},
	}}

	names := p.Names()
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("Names() = %v, want [one two]", names)
	}
}
