package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"shipbox/internal/deploy"
	"shipbox/internal/gh"
	"shipbox/internal/history"
	"shipbox/internal/security"
	"shipbox/internal/target"
	"shipbox/pkg/fileutil"
)

var (
	deployConfigFile string
	deploySourceDir  string
	deployLogFile    string
	deployDBPath     string
	deployNoHistory  bool
	githubToken      string
)

var deployCmd = &cobra.Command{
	Use:   "deploy [target...]",
	Short: "Deploy to one or more targets",
	Long: `Run the deployment plan against the named targets, or against every
configured target when none are named.

Targets deploy in parallel, each over its own SSH connection. One target's
failure never aborts another's run; the command exits non-zero if any target
failed.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployConfigFile, "config", "c", getEnvOrDefault("SHIPBOX_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	deployCmd.Flags().StringVarP(&deploySourceDir, "source", "s", getEnvOrDefault("SHIPBOX_SOURCE_DIR", "."), "Local source directory to deploy")
	deployCmd.Flags().StringVar(&deployLogFile, "log", getEnvOrDefault("SHIPBOX_LOG_FILE", "./deployments.log"), "Path to log file")
	deployCmd.Flags().StringVar(&deployDBPath, "db", getEnvOrDefault("SHIPBOX_DB_PATH", "./deployments.db"), "Path to SQLite history database")
	deployCmd.Flags().BoolVar(&deployNoHistory, "no-history", false, "Skip recording the run in the history database")
	deployCmd.Flags().StringVar(&githubToken, "github-token", os.Getenv("SHIPBOX_GITHUB_TOKEN"), "GitHub token for resolving the deployed commit")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	configFile, err := resolveConfigFile(deployConfigFile)
	if err != nil {
		return err
	}

	logger, logFileHandle, err := setupLogging(deployLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("loading configuration", "config", configFile)
	targets, err := target.LoadConfig(configFile)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	registry := target.NewRegistry(targets)
	selected, err := selectTargets(registry, args)
	if err != nil {
		return err
	}

	for _, t := range selected {
		if err := security.CheckPrivateKeyPerms(t.KeyFile); err != nil {
			logger.Warn("key file permissions", "target", t.Name, "warning", err.Error())
		}
	}

	var hist *history.History
	if !deployNoHistory {
		hist, err = history.NewHistory(deployDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
	}

	ctx := cmd.Context()
	orch := deploy.NewOrchestrator(deploy.SSHDialer, deploy.NewLockManager(), logger)

	logger.Info("starting deployment", "targets", len(selected), "source", deploySourceDir)
	reports := orch.DeployAll(ctx, selected, deploySourceDir)

	for i, report := range reports {
		t := selected[i]
		printReport(report)

		if hist != nil {
			commitHash := resolveCommit(ctx, logger, t)
			run, steps := history.FromReport(report, t.Branch, t.Ref(), commitHash, []string{t.WebhookSecret})
			if _, err := hist.RecordRun(ctx, run); err != nil {
				logger.Error("failed to record run history", "error", err, "target", t.Name)
			} else if err := hist.RecordSteps(ctx, steps); err != nil {
				logger.Error("failed to record step history", "error", err, "target", t.Name)
			}
		}
	}

	if failed := deploy.Failed(reports); len(failed) > 0 {
		return fmt.Errorf("deployment failed for targets: %v", failed)
	}

	logger.Info("deployment successful", "targets", len(selected))
	return nil
}

// resolveCommit looks up the head commit of the target's branch so history
// records what was deployed. Best effort: a lookup failure never fails the
// run.
func resolveCommit(ctx context.Context, logger *slog.Logger, t *target.Target) *string {
	if t.Repo == "" {
		return nil
	}
	if err := security.ValidateRepoName(t.Repo); err != nil {
		logger.Warn("skipping commit lookup", "target", t.Name, "error", err)
		return nil
	}

	sha, err := gh.NewClient(ctx, githubToken).HeadCommit(ctx, t.Repo, t.Branch)
	if err != nil {
		logger.Warn("failed to resolve deployed commit", "target", t.Name, "error", err)
		return nil
	}
	return &sha
}

func selectTargets(registry *target.Registry, names []string) ([]*target.Target, error) {
	if len(names) == 0 {
		names = registry.List()
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}

	selected := make([]*target.Target, 0, len(names))
	for _, name := range names {
		t, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, t)
	}
	return selected, nil
}

func printReport(report *deploy.Report) {
	if report.OK() {
		fmt.Printf("%s: ok (%d steps, %.1fs)\n", report.Target, len(report.Steps), report.Duration.Seconds())
	} else {
		fmt.Printf("%s: FAILED: %v\n", report.Target, report.Err)
	}

	for _, step := range report.Steps {
		marker := " "
		switch step.Status {
		case deploy.StepFailed:
			marker = "x"
		case deploy.StepSkipped:
			marker = "-"
		case deploy.StepSucceeded:
			marker = "+"
		}
		fmt.Printf("  [%s] %s\n", marker, step.Name)
		if step.Status == deploy.StepFailed && step.Result != nil && step.Result.Output() != "" {
			fmt.Printf("      %s\n", step.Result.Output())
		}
	}
}

func resolveConfigFile(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	searchPaths := fileutil.DefaultConfigPaths("targets.yaml")
	found := fileutil.SearchPathsOptional(searchPaths)
	if found == "" {
		fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
		for _, path := range searchPaths {
			fmt.Fprintf(os.Stderr, "  - %s\n", path)
		}
		fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
		return "", fmt.Errorf("configuration file not found")
	}
	return found, nil
}
