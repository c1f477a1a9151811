// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/config"
)

// NewRootCmd creates the root engram command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "engram - temporal vector memory store",
		Long:          "Engram stores per-sector memory embeddings alongside a bitemporal fact ledger, over an embedded SQLite backend or an external Qdrant deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "override the storage data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newVersionCmd(),
		newStatsCmd(),
		newDecayCmd(),
		newMigrateCmd(),
		newDoctorCmd(),
	)

	return root
}

// resolveConfigPath returns the config file to load: the --config flag,
// an existing default config, or a freshly bootstrapped one. Empty means
// defaults only.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}

	def, err := config.DefaultConfigPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return config.BootstrapConfig()
}

// loadConfig sets up logging, resolves and loads the configuration, and
// applies flag overrides. Commands that need configuration call this at
// the top of their RunE.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	setupLogging(cmd)

	path := resolveConfigPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.WarnInsecurePermissions(path)

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}
