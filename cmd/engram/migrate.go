// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/store"
	// Registers both vector backends.
	_ "github.com/engramdb/engram/internal/store/qdrant"
	_ "github.com/engramdb/engram/internal/store/sqlite"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy vectors between backends",
		Long:  "Copy every stored vector from a source backend into a target backend, paging with the source's scroll cursor. The source is left untouched.",
		RunE:  runMigrate,
	}

	cmd.Flags().String("from", "", "source backend (defaults to the configured backend)")
	cmd.Flags().String("to", "", "target backend (required)")
	cmd.Flags().String("namespace", "", "restrict the copy to one namespace")
	cmd.Flags().Int("page-size", store.BatchSize, "points copied per page")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	namespace, _ := cmd.Flags().GetString("namespace")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	if from == "" {
		from = cfg.Storage.Backend
	}
	// The factory falls back to the default backend for unknown names;
	// a migration must never do that silently.
	for _, backend := range []string{from, to} {
		if backend != "sqlite" && backend != "qdrant" {
			return engramerr.New(engramerr.CodeCLIInputInvalid, "unknown backend",
				engramerr.Field("backend", backend))
		}
	}
	if from == to {
		return engramerr.New(engramerr.CodeCLIInputInvalid, "source and target backends are identical",
			engramerr.Field("backend", from))
	}

	ctx := cmd.Context()
	factory := store.NewFactory(cfg.StoreConfig(), slog.Default())

	src, err := factory.Create(ctx, from)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := factory.Create(ctx, to)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	copied := 0
	var cursor *store.ScrollCursor
	for {
		page, next, err := src.Scroll(ctx, namespace, cursor, pageSize)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			n, upsertErr := dst.BatchUpsert(ctx, page)
			copied += n
			if upsertErr != nil {
				return engramerr.With(upsertErr, engramerr.Field("copied_before_failure", copied))
			}
		}
		if next == nil {
			break
		}
		cursor = next
	}

	fmt.Fprintf(cmd.OutOrStdout(), "migrated %d vector(s) from %s to %s\n", copied, from, to)
	return nil
}
