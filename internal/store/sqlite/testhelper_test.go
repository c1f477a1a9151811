// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
	"github.com/engramdb/engram/pkg/types"
)

// testDims keeps test vectors small; the stores do not care about the
// real embedding width.
const testDims = 4

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVectorStore(t *testing.T) *sqlite.VectorStore {
	t.Helper()
	vs := sqlite.NewVectorStore(filepath.Join(t.TempDir(), "vectors.db"), testDims, discardLogger())
	require.NoError(t, vs.Initialize(context.Background()))
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func newTemporalStore(t *testing.T) *sqlite.TemporalStore {
	t.Helper()
	ts, err := sqlite.NewTemporalStore(filepath.Join(t.TempDir(), "temporal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func newWaypointStore(t *testing.T) *sqlite.WaypointStore {
	t.Helper()
	ws, err := sqlite.NewWaypointStore(filepath.Join(t.TempDir(), "waypoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func point(memoryID string, sector types.Sector, namespace string, vec []float32) *store.VectorPoint {
	return &store.VectorPoint{
		MemoryID:  memoryID,
		Sector:    sector,
		Namespace: namespace,
		Vector:    vec,
	}
}

func fact(namespace, subject, predicate, object string, validFrom time.Time) *store.FactInput {
	return &store.FactInput{
		Namespace: namespace,
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		ValidFrom: validFrom,
	}
}

func floatPtr(v float64) *float64 { return &v }

// day is a fixed reference instant; temporal tests build intervals
// relative to it so assertions are deterministic.
var day = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
