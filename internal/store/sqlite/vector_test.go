// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

func TestVectorStoreUpsertAndGet(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "alice", vec)))

	got, err := vs.GetVector(ctx, "mem-1", types.SectorSemantic, "alice")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// Replacing the same key overwrites rather than duplicating.
	replacement := []float32{1, 1, 1, 1}
	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "alice", replacement)))

	got, err = vs.GetVector(ctx, "mem-1", types.SectorSemantic, "alice")
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	stats, err := vs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalVectors)
}

func TestVectorStoreGetVectorNotFound(t *testing.T) {
	vs := newVectorStore(t)

	got, err := vs.GetVector(context.Background(), "missing", types.SectorEpisodic, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVectorStoreInvalidInput(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	err := vs.Upsert(ctx, point("", types.SectorSemantic, "", []float32{1, 0, 0, 0}))
	assert.True(t, engramerr.IsInvalidInput(err))

	err = vs.Upsert(ctx, point("mem-1", "imaginary", "", []float32{1, 0, 0, 0}))
	assert.True(t, engramerr.IsInvalidInput(err))

	err = vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "", []float32{1, 0}))
	assert.True(t, engramerr.IsInvalidInput(err))
}

func TestVectorStoreNamespaceIsolation(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "alice", []float32{1, 0, 0, 0})))

	// Reads scoped to another namespace see nothing.
	got, err := vs.GetVector(ctx, "mem-1", types.SectorSemantic, "bob")
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "bob",
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// A cross-namespace delete is a silent no-op.
	require.NoError(t, vs.Delete(ctx, "mem-1", types.SectorSemantic, "bob"))
	got, err = vs.GetVector(ctx, "mem-1", types.SectorSemantic, "alice")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestVectorStoreSearchOrderingAndThreshold(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("identical", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("similar", types.SectorSemantic, "ns", []float32{1, 1, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("orthogonal", types.SectorSemantic, "ns", []float32{0, 1, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("opposite", types.SectorSemantic, "ns", []float32{-1, 0, 0, 0})))

	// Default threshold 0.3 keeps the identical (1.0) and similar (~0.707)
	// vectors and drops the orthogonal and opposite ones.
	results, err := vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "identical", results[0].MemoryID)
	assert.Equal(t, "similar", results[1].MemoryID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, results[1].Score, 1e-3)

	// An explicit zero threshold is inclusive: the orthogonal vector
	// scores exactly 0.0 and must appear.
	results, err = vs.Search(ctx, &store.SearchRequest{
		Vector:         []float32{1, 0, 0, 0},
		Namespace:      "ns",
		ScoreThreshold: floatPtr(0),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "orthogonal", results[2].MemoryID)

	// Limit truncates after ordering.
	results, err = vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
		Limit:     1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "identical", results[0].MemoryID)
}

func TestVectorStoreSearchSectorAndPayloadFilters(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	noteSemantic := point("note", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})
	noteSemantic.Payload = types.Payload{"kind": "note"}
	require.NoError(t, vs.Upsert(ctx, noteSemantic))

	taskSemantic := point("task", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})
	taskSemantic.Payload = types.Payload{"kind": "task"}
	require.NoError(t, vs.Upsert(ctx, taskSemantic))

	require.NoError(t, vs.Upsert(ctx, point("episode", types.SectorEpisodic, "ns", []float32{1, 0, 0, 0})))

	results, err := vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
		Sector:    types.SectorSemantic,
		Filters:   types.Payload{"kind": "note"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note", results[0].MemoryID)
	assert.Nil(t, results[0].Vector, "vectors are omitted unless requested")

	results, err = vs.Search(ctx, &store.SearchRequest{
		Vector:      []float32{1, 0, 0, 0},
		Namespace:   "ns",
		Sector:      types.SectorEpisodic,
		WithVectors: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []float32{1, 0, 0, 0}, results[0].Vector)
}

func TestVectorStoreBatchUpsert(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	var points []*store.VectorPoint
	for i := 0; i < 6; i++ {
		ns := "alice"
		if i%2 == 1 {
			ns = "bob"
		}
		points = append(points, point(fmt.Sprintf("mem-%d", i), types.SectorEpisodic, ns, []float32{1, 0, 0, float32(i)}))
	}

	written, err := vs.BatchUpsert(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, 6, written)

	stats, err := vs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.TotalVectors)
	assert.Equal(t, int64(6), stats.BySector[types.SectorEpisodic])
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestVectorStoreGetVectorsBySector(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorEmotional, "ns", []float32{0, 1, 0, 0})))

	got, err := vs.GetVectorsBySector(ctx, "mem-1", "ns")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, got[types.SectorSemantic])
	assert.Equal(t, []float32{0, 1, 0, 0}, got[types.SectorEmotional])
}

func TestVectorStoreDelete(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorEpisodic, "ns", []float32{0, 1, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-2", types.SectorSemantic, "ns", []float32{0, 0, 1, 0})))

	// Sector-scoped delete leaves the memory's other sectors alone.
	require.NoError(t, vs.Delete(ctx, "mem-1", types.SectorSemantic, "ns"))
	left, err := vs.GetVectorsBySector(ctx, "mem-1", "ns")
	require.NoError(t, err)
	require.Len(t, left, 1)

	// Empty sector wipes the remaining sectors for the id.
	require.NoError(t, vs.Delete(ctx, "mem-1", "", "ns"))
	left, err = vs.GetVectorsBySector(ctx, "mem-1", "ns")
	require.NoError(t, err)
	assert.Empty(t, left)

	deleted, err := vs.BatchDelete(ctx, []string{"mem-2", "missing"}, "", "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestVectorStoreCloseThenReuse(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Close())

	// Operations after Close lazily re-open the same database.
	got, err := vs.GetVector(ctx, "mem-1", types.SectorSemantic, "ns")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, got)
	assert.True(t, vs.HealthCheck(ctx))
}

func TestVectorScroll(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "alice", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-2", types.SectorEpisodic, "alice", []float32{0, 1, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-3", types.SectorSemantic, "bob", []float32{0, 0, 1, 0})))

	// Page through everything two points at a time.
	var all []*store.VectorPoint
	var cursor *store.ScrollCursor
	for {
		page, next, err := vs.Scroll(ctx, "", cursor, 2)
		require.NoError(t, err)
		all = append(all, page...)
		if next == nil {
			break
		}
		cursor = next
	}
	require.Len(t, all, 3)

	ids := make([]string, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.MemoryID)
		assert.Len(t, p.Vector, testDims)
		assert.False(t, p.CreatedAt.IsZero())
	}
	assert.ElementsMatch(t, []string{"mem-1", "mem-2", "mem-3"}, ids)
}

func TestVectorScrollNamespaceScoped(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, point("mem-1", types.SectorSemantic, "alice", []float32{1, 0, 0, 0})))
	require.NoError(t, vs.Upsert(ctx, point("mem-2", types.SectorSemantic, "bob", []float32{0, 1, 0, 0})))

	page, _, err := vs.Scroll(ctx, "alice", nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "mem-1", page[0].MemoryID)
	assert.Equal(t, "alice", page[0].Namespace)

	_, _, err = vs.Scroll(ctx, "", &store.ScrollCursor{Offset: "not-a-rowid"}, 10)
	require.Error(t, err)
	assert.True(t, engramerr.IsInvalidInput(err))
}

func TestVectorStoreSearchRejectsCompositeFilters(t *testing.T) {
	vs := newVectorStore(t)
	ctx := context.Background()

	p := point("note", types.SectorSemantic, "ns", []float32{1, 0, 0, 0})
	p.Payload = types.Payload{"tags": []any{"a", "b"}, "priority": 3}
	require.NoError(t, vs.Upsert(ctx, p))

	// Composite filter values are rejected up front, never compared.
	_, err := vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
		Filters:   types.Payload{"tags": []any{"a", "b"}},
	})
	require.Error(t, err)
	assert.True(t, engramerr.IsInvalidInput(err))

	// A scalar filter against a stored list simply fails to match.
	results, err := vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
		Filters:   types.Payload{"tags": "a"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Numbers match across Go types: the stored 3 round-trips through the
	// payload codec as a float64.
	results, err = vs.Search(ctx, &store.SearchRequest{
		Vector:    []float32{1, 0, 0, 0},
		Namespace: "ns",
		Filters:   types.Payload{"priority": 3},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note", results[0].MemoryID)
}
