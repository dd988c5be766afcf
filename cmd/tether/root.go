package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether is a conversational task orchestrator",
	Long: `Tether routes chat sessions into task domains, collects the arguments of
sequencing pipeline tasks and supervises their stages with automatic retries
and human escalation. State is checkpointed, so sessions survive restarts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format), nil
}

func loadApp(cmd *cobra.Command) (*tether.App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return tether.New(cmd.Context(), cfg, tether.WithLogger(logger))
}
