// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/store"
)

func TestSubjectTimeline(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	jan := day
	jun := day.AddDate(0, 5, 0)

	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "ceo", jan))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "advisor", jun))
	require.NoError(t, err)

	events, err := ts.GetSubjectTimeline(ctx, "ns", "sam")
	require.NoError(t, err)
	require.Len(t, events, 3)

	// created(ceo) -> invalidated(ceo) -> created(advisor), in time order.
	assert.Equal(t, store.TimelineCreated, events[0].Type)
	assert.Equal(t, "ceo", events[0].Fact.Object)
	assert.Equal(t, jan.UnixMilli(), events[0].At.UnixMilli())

	assert.Equal(t, store.TimelineInvalidated, events[1].Type)
	assert.Equal(t, "ceo", events[1].Fact.Object)
	assert.Equal(t, jun.Add(-time.Millisecond).UnixMilli(), events[1].At.UnixMilli())

	assert.Equal(t, store.TimelineCreated, events[2].Type)
	assert.Equal(t, "advisor", events[2].Fact.Object)
	assert.Equal(t, jun.UnixMilli(), events[2].At.UnixMilli())
}

func TestPredicateTimeline(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "ceo", day))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "city", "sf", day))
	require.NoError(t, err)

	events, err := ts.GetPredicateTimeline(ctx, "ns", "sam", "role")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "role", events[0].Fact.Predicate)
}

func TestGetChangesInWindow(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	jan := day
	jun := day.AddDate(0, 5, 0)

	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "ceo", jan))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "advisor", jun))
	require.NoError(t, err)

	// A window starting after jan excludes the first created event but
	// still contains the invalidation it caused.
	may := day.AddDate(0, 4, 0)
	jul := day.AddDate(0, 6, 0)
	events, err := ts.GetChangesInWindow(ctx, "ns", may, jul, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.TimelineInvalidated, events[0].Type)
	assert.Equal(t, store.TimelineCreated, events[1].Type)

	// Subject filter.
	events, err = ts.GetChangesInWindow(ctx, "ns", may, jul, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCompareTimePoints(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	jan := day
	mar := day.AddDate(0, 2, 0)
	feb := day.AddDate(0, 1, 0)
	jun := day.AddDate(0, 5, 0)

	// role changes between the two snapshots.
	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "eng", jan))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "manager", mar))
	require.NoError(t, err)

	// city disappears.
	city, err := ts.InsertFact(ctx, fact("ns", "sam", "city", "paris", jan))
	require.NoError(t, err)
	require.NoError(t, ts.InvalidateFact(ctx, city.ID, mar))

	// title appears.
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "title", "dr", mar))
	require.NoError(t, err)

	// country never changes.
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "country", "fr", jan))
	require.NoError(t, err)

	cmp, err := ts.CompareTimePoints(ctx, "ns", "sam", feb, jun)
	require.NoError(t, err)

	require.Len(t, cmp.Changed, 1)
	assert.Equal(t, "eng", cmp.Changed[0].Before.Object)
	assert.Equal(t, "manager", cmp.Changed[0].After.Object)

	require.Len(t, cmp.Removed, 1)
	assert.Equal(t, "city", cmp.Removed[0].Predicate)

	require.Len(t, cmp.Added, 1)
	assert.Equal(t, "title", cmp.Added[0].Predicate)

	require.Len(t, cmp.Unchanged, 1)
	assert.Equal(t, "country", cmp.Unchanged[0].Predicate)
}

func TestChangeFrequency(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "eng", day))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "manager", day.AddDate(0, 1, 0)))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "director", day.AddDate(0, 2, 0)))
	require.NoError(t, err)

	cf, err := ts.GetChangeFrequency(ctx, "ns", "sam", "role")
	require.NoError(t, err)
	require.NotNil(t, cf)
	assert.Equal(t, 3, cf.ChangeCount)
	assert.Greater(t, cf.ChangesPerDay, 0.0)
	assert.Greater(t, cf.AvgDuration, time.Duration(0))
	assert.Equal(t, day.UnixMilli(), cf.FirstSeen.UnixMilli())
	assert.Equal(t, day.AddDate(0, 2, 0).UnixMilli(), cf.LastChanged.UnixMilli())

	// Unknown pairs yield nil rather than an error.
	cf, err = ts.GetChangeFrequency(ctx, "ns", "sam", "shoe_size")
	require.NoError(t, err)
	assert.Nil(t, cf)
}

func TestVolatileFacts(t *testing.T) {
	ts := newTemporalStore(t)
	ctx := context.Background()

	// role changes three times, country never does.
	_, err := ts.InsertFact(ctx, fact("ns", "sam", "role", "eng", day))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "manager", day.AddDate(0, 1, 0)))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "role", "director", day.AddDate(0, 2, 0)))
	require.NoError(t, err)
	_, err = ts.InsertFact(ctx, fact("ns", "sam", "country", "fr", day))
	require.NoError(t, err)

	volatile, err := ts.GetVolatileFacts(ctx, "ns", 0)
	require.NoError(t, err)
	require.Len(t, volatile, 1)
	assert.Equal(t, "role", volatile[0].Predicate)
	assert.Equal(t, 3, volatile[0].ChangeCount)
}
