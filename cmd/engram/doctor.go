// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, configuration, data directory, backend reachability, and disk space.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	cfgPath := resolveConfigPath(cmd)
	cfg, cfgErr := loadConfig(cmd)

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgPath, cfgErr) }},
		{"Data Dir", func() string { return checkDataDir(cfg) }},
		{"Vector Backend", func() string { return checkVectorBackend(cmd.Context(), cfg) }},
		{"Temporal Ledger", func() string { return checkTemporal(cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(cfg) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("engram %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(path string, loadErr error) string {
	if loadErr != nil {
		return fmt.Sprintf("error: %s", loadErr)
	}
	if path != "" {
		return fmt.Sprintf("loaded from %s", path)
	}
	return "using defaults (no config file found)"
}

func checkDataDir(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config failed to load)"
	}
	dir := cfg.Storage.DataDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Sprintf("not writable: %s", err)
	}
	probe := filepath.Join(dir, ".engram-doctor")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return fmt.Sprintf("not writable: %s", err)
	}
	_ = os.Remove(probe)
	return fmt.Sprintf("%s (writable)", dir)
}

func checkVectorBackend(ctx context.Context, cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config failed to load)"
	}

	factory := store.NewFactory(cfg.StoreConfig(), slog.Default())
	defer func() { _ = factory.Reset() }()

	vs, err := factory.Get(ctx)
	if err != nil {
		return fmt.Sprintf("%s unreachable: %s", cfg.Storage.Backend, err)
	}
	if !vs.HealthCheck(ctx) {
		return fmt.Sprintf("%s unhealthy", cfg.Storage.Backend)
	}

	stats, err := vs.Stats(ctx)
	if err != nil {
		return fmt.Sprintf("%s healthy (stats unavailable: %s)", cfg.Storage.Backend, err)
	}
	return fmt.Sprintf("%s healthy, %d vector(s)", cfg.Storage.Backend, stats.TotalVectors)
}

func checkTemporal(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config failed to load)"
	}
	ts, err := sqlite.NewTemporalStore(filepath.Join(cfg.Storage.DataDir, "temporal.db"))
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = ts.Close() }()
	return "ok"
}

func checkDiskSpace(cfg *config.Config) string {
	path := ""
	if cfg != nil {
		path = cfg.Storage.DataDir
	}
	if _, err := os.Stat(path); path == "" || os.IsNotExist(err) {
		// Fall back to home directory if the data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
