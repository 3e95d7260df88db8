package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipbox/internal/history"
)

var (
	statusDBPath string
	statusLimit  int
	statusSteps  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [target]",
	Short: "Show deployment history",
	Long: `Show the most recent deployment runs. With a target name, shows that
target's history; without one, shows the latest run for every target.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", getEnvOrDefault("SHIPBOX_DB_PATH", "./deployments.db"), "Path to SQLite history database")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().BoolVar(&statusSteps, "steps", false, "Show per-step results for each run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	hist, err := history.NewHistory(statusDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	ctx := cmd.Context()

	if len(args) == 0 {
		latest, err := hist.AllTargetsStatus(ctx)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			fmt.Println("No deployment history.")
			return nil
		}
		for name, run := range latest {
			printRun(name, run)
		}
		return nil
	}

	targetName := args[0]
	runs, err := hist.RunHistory(ctx, targetName, statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No deployment history for target %s.\n", targetName)
		return nil
	}

	for _, run := range runs {
		printRun(targetName, &run)
		if statusSteps {
			steps, err := hist.StepResults(ctx, run.RunID)
			if err != nil {
				return err
			}
			for _, step := range steps {
				exitCode := "-"
				if step.ExitCode != nil {
					exitCode = fmt.Sprintf("%d", *step.ExitCode)
				}
				fmt.Printf("    %d. %-20s %-10s exit=%s\n", step.Position+1, step.Name, step.Status, exitCode)
			}
		}
	}

	return nil
}

func printRun(targetName string, run *history.RunRecord) {
	duration := "-"
	if run.DurationSeconds != nil {
		duration = fmt.Sprintf("%.1fs", *run.DurationSeconds)
	}

	fmt.Printf("%-20s %-12s %s  branch=%s duration=%s", targetName, run.Status,
		run.StartedAt.Format("2006-01-02 15:04:05"), run.Branch, duration)
	if run.CommitHash != nil {
		commit := *run.CommitHash
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Printf(" commit=%s", commit)
	}
	fmt.Println()

	if run.ErrorMessage != nil {
		fmt.Printf("    error: %s\n", *run.ErrorMessage)
	}
}
