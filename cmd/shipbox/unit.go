package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipbox/internal/target"
	"shipbox/pkg/templates"
)

var unitConfigFile string

var unitCmd = &cobra.Command{
	Use:   "unit <target>",
	Short: "Render the supervisor config file for a target",
	Long: `Render the supervisor configuration for a target to stdout: a systemd
unit file or a pm2 ecosystem file, depending on the target's supervisor.

Install the rendered file on the target once before its first deployment, e.g.:

  shipbox unit web-1 | ssh deploy@web-1 'sudo tee /etc/systemd/system/web-1.service'`,
	Args: cobra.ExactArgs(1),
	RunE: runUnit,
}

func init() {
	unitCmd.Flags().StringVarP(&unitConfigFile, "config", "c", getEnvOrDefault("SHIPBOX_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
}

func runUnit(cmd *cobra.Command, args []string) error {
	configFile, err := resolveConfigFile(unitConfigFile)
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

	var rendered string
	switch t.Supervisor {
	case target.SupervisorSystemd:
		rendered, err = templates.RenderSystemdUnit(t.AppName, t.User, t.AppPath, t.Entrypoint)
	default:
		rendered, err = templates.RenderPM2Ecosystem(t.AppName, t.AppPath, t.Entrypoint)
	}
	if err != nil {
		return err
	}

	fmt.Print(rendered)
	return nil
}
