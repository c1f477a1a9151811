// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/maintenance"
	"github.com/engramdb/engram/internal/store/sqlite"
)

func newDecayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Apply confidence decay to open facts",
		Long:  "Run one confidence decay sweep over the temporal ledger, or keep sweeping on a cron schedule with --schedule.",
		RunE:  runDecay,
	}

	cmd.Flags().Float64("rate", 0, "per-day decay rate in (0, 1); defaults to maintenance.decay_rate")
	cmd.Flags().String("schedule", "", "cron schedule; when set, runs sweeps until interrupted")

	return cmd
}

func runDecay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rate, _ := cmd.Flags().GetFloat64("rate")
	if rate == 0 {
		rate = cfg.Maintenance.DecayRate
	}

	ts, err := sqlite.NewTemporalStore(filepath.Join(cfg.Storage.DataDir, "temporal.db"))
	if err != nil {
		return err
	}
	defer func() { _ = ts.Close() }()

	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		affected, err := ts.ApplyConfidenceDecay(cmd.Context(), rate)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decay sweep complete: %d fact(s) affected\n", affected)
		return nil
	}

	sched, err := maintenance.NewScheduler(ts, schedule, rate, slog.Default())
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decay scheduler running (%s); press Ctrl-C to stop\n", schedule)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return sched.Stop(context.Background())
}
