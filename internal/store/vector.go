// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import (
	"context"

	"github.com/engramdb/engram/pkg/types"
)

// BatchSize bounds how many points are written per backend request in
// BatchUpsert, to stay within backend request-size limits.
const BatchSize = 500

// VectorStore is the backend-agnostic contract for storing and searching
// fixed-dimension embeddings tagged by (memoryID, sector, namespace).
// Both backends honor identical semantics:
//
//   - Namespace isolation: a vector stored under namespace A is never
//     visible to a call scoped to namespace B.
//   - Not-found surfaces as a nil result, never an error, so callers can
//     tell "no data" from "failure".
//   - Read-path backend failures degrade to empty results; write-path
//     failures propagate so writes are never silently dropped.
type VectorStore interface {
	// Initialize performs idempotent setup. Safe to call repeatedly and
	// required (directly or implicitly) before any other operation,
	// including after Close.
	Initialize(ctx context.Context) error

	// Upsert inserts or replaces the vector at (MemoryID, Sector) within
	// the point's namespace partition. It does not error if no vector
	// exists yet at that key.
	Upsert(ctx context.Context, point *VectorPoint) error

	// BatchUpsert groups points by namespace, chunks each group into
	// batches of at most BatchSize, and writes them in list order. It
	// returns the number of vectors written; a failing batch does not
	// discard the count of batches already committed.
	BatchUpsert(ctx context.Context, points []*VectorPoint) (int, error)

	// Search returns matches ordered by descending cosine similarity,
	// filtered to scores >= the request threshold. A namespace whose
	// partition does not exist yet yields an empty result, not an error.
	Search(ctx context.Context, req *SearchRequest) ([]*SearchResult, error)

	// GetVector returns the stored vector, or nil when absent. When a
	// namespace is supplied, ownership is verified even on backends where
	// physical partitioning already isolates the data.
	GetVector(ctx context.Context, memoryID string, sector types.Sector, namespace string) ([]float32, error)

	// GetVectorsBySector returns every per-sector vector stored for one
	// memory id (at most one per sector).
	GetVectorsBySector(ctx context.Context, memoryID string, namespace string) (map[types.Sector][]float32, error)

	// Delete removes one sector's vector, or all sectors for the id when
	// sector is empty. A namespace mismatch is a silent no-op.
	Delete(ctx context.Context, memoryID string, sector types.Sector, namespace string) error

	// BatchDelete bulk-deletes and returns a best-effort count. For
	// all-sector deletes the count is an estimate, not exact.
	BatchDelete(ctx context.Context, memoryIDs []string, sector types.Sector, namespace string) (int, error)

	// Scroll pages through stored points in a stable backend-specific
	// order, for export and migration tooling. An empty namespace scrolls
	// every partition. A nil cursor starts from the beginning; the
	// returned cursor resumes after the last point and is nil once the
	// scroll is exhausted. A non-nil cursor does not guarantee more
	// points; the following call may return an empty page.
	Scroll(ctx context.Context, namespace string, cursor *ScrollCursor, limit int) ([]*VectorPoint, *ScrollCursor, error)

	// Stats aggregates counts across the whole backend; the indexed
	// backend sums over every namespace partition.
	Stats(ctx context.Context) (*VectorStats, error)

	// HealthCheck is a non-throwing liveness probe.
	HealthCheck(ctx context.Context) bool

	// Close releases resources. Subsequent operations must re-initialize
	// rather than act on stale state.
	Close() error
}
