package history

import (
	"errors"

	"shipbox/internal/deploy"
	"shipbox/internal/security"
)

// FromReport converts an executor report into history records. Step output
// is redacted against the provided secrets before it is persisted.
func FromReport(report *deploy.Report, branch, ref string, commitHash *string, secrets []string) (*RunRecord, []StepRecord) {
	duration := report.Duration.Seconds()

	run := &RunRecord{
		RunID:           report.RunID.String(),
		Target:          report.Target,
		Branch:          branch,
		Ref:             ref,
		Status:          StatusSuccess,
		StartedAt:       report.StartedAt,
		DurationSeconds: &duration,
		CommitHash:      commitHash,
	}
	if !report.OK() {
		run.Status = StatusFailed
		if errors.Is(report.Err, deploy.ErrRunInProgress) {
			run.Status = StatusRejected
		}
		msg := security.Redact(report.Err.Error(), secrets)
		run.ErrorMessage = &msg
	}

	steps := make([]StepRecord, 0, len(report.Steps))
	for i, sr := range report.Steps {
		step := StepRecord{
			RunID:    run.RunID,
			Position: i,
			Name:     sr.Name,
			Status:   string(sr.Status),
		}
		if sr.Result != nil {
			exitCode := sr.Result.ExitCode
			stepDuration := sr.Result.Duration.Seconds()
			step.ExitCode = &exitCode
			step.DurationSeconds = &stepDuration
			step.Output = security.Redact(sr.Result.Output(), secrets)
		}
		steps = append(steps, step)
	}

	return run, steps
}
