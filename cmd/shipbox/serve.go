package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shipbox/internal/deploy"
	"shipbox/internal/history"
	"shipbox/internal/server"
	"shipbox/internal/target"
)

var (
	serveConfigFile string
	serveSourceDir  string
	serveLogFile    string
	serveDBPath     string
	serveHost       string
	servePort       int
	serveTestMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub webhook requests.

A verified push event on a target's branch triggers a deployment run to that
target over SSH.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", getEnvOrDefault("SHIPBOX_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	serveCmd.Flags().StringVarP(&serveSourceDir, "source", "s", getEnvOrDefault("SHIPBOX_SOURCE_DIR", "."), "Local source directory to deploy")
	serveCmd.Flags().StringVar(&serveLogFile, "log", getEnvOrDefault("SHIPBOX_LOG_FILE", "./deployments.log"), "Path to log file")
	serveCmd.Flags().StringVar(&serveDBPath, "db", getEnvOrDefault("SHIPBOX_DB_PATH", "./deployments.db"), "Path to SQLite history database")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("SHIPBOX_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("SHIPBOX_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", os.Getenv("SHIPBOX_SKIP_VALIDATION") == "1", "Enable test mode (skip rate limits and history)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, err := resolveConfigFile(serveConfigFile)
	if err != nil {
		return err
	}

	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("starting shipbox")

	logger.Info("loading configuration", "config", configFile)
	targets, err := target.LoadConfig(configFile)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("configuration validated successfully", "count", len(targets))

	if len(targets) == 0 {
		logger.Warn("no targets configured in config file", "config", configFile)
		logger.Warn("the server will start but won't handle any deployments until targets are added")
	}

	registry := target.NewRegistry(targets)

	var hist *history.History
	if !serveTestMode {
		logger.Info("initializing history database", "db", serveDBPath)
		hist, err = history.NewHistory(serveDBPath)
		if err != nil {
			logger.Error("failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
	}

	orch := deploy.NewOrchestrator(deploy.SSHDialer, deploy.NewLockManager(), logger)
	srv := server.NewServer(registry, hist, orch, logger, serveSourceDir, serveTestMode)

	logger.Info("starting HTTP server", "host", serveHost, "port", servePort)
	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
