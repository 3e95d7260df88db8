// Package deploy executes deployment plans against targets: strictly
// sequential steps, halt on the first fatal failure, full ordered audit
// trail per run.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shipbox/internal/plan"
)

// StepStatus describes the outcome of one plan step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is the audit record for one step of a run. Skipped steps carry
// no Result.
type StepResult struct {
	Name     string
	Status   StepStatus
	Fatal    bool
	Result   *plan.Result
	Err      error
}

// StepFailure indicates a fatal step exited non-zero. The captured output is
// surfaced verbatim to the operator.
type StepFailure struct {
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

func (e *StepFailure) Unwrap() error { return e.Err }

// Report is the full result of one deployment run against one target.
type Report struct {
	RunID      uuid.UUID
	Target     string
	Steps      []StepResult
	StartedAt  time.Time
	Duration   time.Duration
	Err        error
}

// OK reports overall success.
func (r *Report) OK() bool { return r.Err == nil }

// Executor runs a plan through a runner. It has no retry logic: re-running
// the whole plan is the retry mechanism, which is safe because every step is
// idempotent.
type Executor struct {
	runner plan.Runner
	logger *slog.Logger
}

// NewExecutor creates an executor bound to one open runner.
func NewExecutor(runner plan.Runner, logger *slog.Logger) *Executor {
	return &Executor{runner: runner, logger: logger}
}

// Execute runs the plan's steps in declared order. A step is attempted only
// if every prior fatal step succeeded; the first fatal failure aborts the
// remainder and the unattempted steps are reported as skipped. Non-fatal
// failures are logged and execution continues.
func (e *Executor) Execute(ctx context.Context, targetName string, p *plan.Plan) *Report {
	report := &Report{
		RunID:     uuid.New(),
		Target:    targetName,
		StartedAt: time.Now(),
		Steps:     make([]StepResult, 0, len(p.Steps)),
	}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	if err := p.Validate(); err != nil {
		report.Err = fmt.Errorf("invalid plan: %w", err)
		return report
	}

	log := e.logger.With("target", targetName, "run_id", report.RunID.String())

	aborted := false
	for _, step := range p.Steps {
		if aborted {
			report.Steps = append(report.Steps, StepResult{
				Name:   step.Name,
				Status: StepSkipped,
				Fatal:  step.Fatal,
			})
			continue
		}

		select {
		case <-ctx.Done():
			report.Steps = append(report.Steps, StepResult{
				Name:   step.Name,
				Status: StepSkipped,
				Fatal:  step.Fatal,
			})
			report.Err = ctx.Err()
			aborted = true
			continue
		default:
		}

		log.Info("step started", "step", step.Name)
		result, err := step.Execute(ctx, e.runner)

		sr := StepResult{Name: step.Name, Fatal: step.Fatal, Result: result, Err: err}

		switch {
		case err == nil && result.OK():
			sr.Status = StepSucceeded
			log.Info("step succeeded", "step", step.Name, "duration_ms", result.Duration.Milliseconds())

		case step.Fatal:
			sr.Status = StepFailed
			report.Err = stepFailure(step.Name, result, err)
			aborted = true
			log.Error("fatal step failed", "step", step.Name, "error", report.Err)

		default:
			sr.Status = StepFailed
			if err != nil {
				log.Warn("non-fatal step failed, continuing", "step", step.Name, "error", err)
			} else {
				log.Warn("non-fatal step failed, continuing", "step", step.Name,
					"exit_code", result.ExitCode, "output", result.Output())
			}
		}

		report.Steps = append(report.Steps, sr)
	}

	return report
}

func stepFailure(name string, result *plan.Result, err error) error {
	failure := &StepFailure{Step: name, Err: err}
	if result != nil {
		failure.ExitCode = result.ExitCode
		failure.Output = result.Output()
	}
	return failure
}
