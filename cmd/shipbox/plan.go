package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipbox/internal/deploy"
	"shipbox/internal/target"
)

var (
	planConfigFile string
	planSourceDir  string
)

var planCmd = &cobra.Command{
	Use:   "plan <target>",
	Short: "Show the deployment plan for a target",
	Long:  `Print the resolved step sequence for a target without executing anything.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planConfigFile, "config", "c", getEnvOrDefault("SHIPBOX_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	planCmd.Flags().StringVarP(&planSourceDir, "source", "s", getEnvOrDefault("SHIPBOX_SOURCE_DIR", "."), "Local source directory to deploy")
}

func runPlan(cmd *cobra.Command, args []string) error {
	configFile, err := resolveConfigFile(planConfigFile)
	if err != nil {
		return err
	}

	targets, err := target.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	registry := target.NewRegistry(targets)
	t, err := registry.Get(args[0])
	if err != nil {
		return err
	}

	p, err := deploy.BuildPlan(t, planSourceDir)
	if err != nil {
		return err
	}

	fmt.Printf("Deployment plan for %s (%s@%s):\n", t.Name, t.User, t.Addr())
	for i, step := range p.Steps {
		policy := "non-fatal"
		if step.Fatal {
			policy = "fatal"
		}
		fmt.Printf("  %d. %-20s [%s]\n", i+1, step.Name, policy)
		fmt.Printf("     %s\n", step.Describe())
	}

	return nil
}
