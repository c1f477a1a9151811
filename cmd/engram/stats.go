// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vector storage statistics",
		Long:  "Aggregate vector counts per sector across the configured backend.",
		RunE:  runStats,
	}

	cmd.Flags().StringP("format", "f", "text", "output format: text, json, or yaml")

	return cmd
}

type statsOutput struct {
	Backend      string           `json:"backend" yaml:"backend"`
	TotalVectors int64            `json:"total_vectors" yaml:"total_vectors"`
	BySector     map[string]int64 `json:"by_sector" yaml:"by_sector"`
	LastUpdated  string           `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "yaml":
	default:
		return engramerr.New(engramerr.CodeCLIInputInvalid, "unknown output format",
			engramerr.Field("format", format))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	factory := store.NewFactory(cfg.StoreConfig(), slog.Default())
	defer func() { _ = factory.Reset() }()

	vs, err := factory.Get(cmd.Context())
	if err != nil {
		return err
	}
	stats, err := vs.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := statsOutput{
		Backend:      cfg.Storage.Backend,
		TotalVectors: stats.TotalVectors,
		BySector:     make(map[string]int64, len(stats.BySector)),
	}
	for sector, count := range stats.BySector {
		out.BySector[string(sector)] = count
	}
	if !stats.LastUpdated.IsZero() {
		out.LastUpdated = stats.LastUpdated.UTC().Format("2006-01-02T15:04:05Z")
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		return yaml.NewEncoder(w).Encode(out)
	}

	fmt.Fprintf(w, "%-16s %s\n", "Backend:", out.Backend)
	fmt.Fprintf(w, "%-16s %d\n", "Total vectors:", out.TotalVectors)
	if out.LastUpdated != "" {
		fmt.Fprintf(w, "%-16s %s\n", "Last updated:", out.LastUpdated)
	}

	sectors := make([]string, 0, len(out.BySector))
	for s := range out.BySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)
	for _, s := range sectors {
		fmt.Fprintf(w, "  %-14s %d\n", s+":", out.BySector[s])
	}
	return nil
}
