// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

// defaultVolatileLimit caps GetVolatileFacts when the caller passes no limit.
const defaultVolatileLimit = 20

// expandTimeline turns each fact into up to two events: created at
// valid_from and, once closed, invalidated at valid_to. This is how "what
// changed and when" is reconstructed from the interval model.
func expandTimeline(facts []*store.TemporalFact) []*store.TimelineEvent {
	events := make([]*store.TimelineEvent, 0, len(facts)*2)
	for _, f := range facts {
		events = append(events, &store.TimelineEvent{
			Type: store.TimelineCreated,
			At:   f.ValidFrom,
			Fact: f,
		})
		if f.ValidTo != nil {
			events = append(events, &store.TimelineEvent{
				Type: store.TimelineInvalidated,
				At:   *f.ValidTo,
				Fact: f,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].At.Equal(events[j].At) {
			return events[i].At.Before(events[j].At)
		}
		return events[i].Type == store.TimelineCreated && events[j].Type == store.TimelineInvalidated
	})
	return events
}

// GetSubjectTimeline reconstructs the subject's full change history in
// chronological order.
func (t *TemporalStore) GetSubjectTimeline(ctx context.Context, namespace, subject string) ([]*store.TimelineEvent, error) {
	facts, err := t.GetFactsBySubject(ctx, namespace, subject, time.Time{}, true)
	if err != nil {
		return nil, err
	}
	return expandTimeline(facts), nil
}

// GetPredicateTimeline is GetSubjectTimeline narrowed to one predicate.
func (t *TemporalStore) GetPredicateTimeline(ctx context.Context, namespace, subject, predicate string) ([]*store.TimelineEvent, error) {
	if namespace == "" || subject == "" || predicate == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, subject, and predicate are required")
	}

	const q = `SELECT ` + factColumns + ` FROM temporal_facts
WHERE namespace = ? AND subject = ? AND predicate = ?
ORDER BY valid_from ASC`

	rows, err := t.db.QueryContext(ctx, q, namespace, subject, predicate)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "loading predicate history")
	}
	facts, err := t.collectFacts(rows)
	if err != nil {
		return nil, err
	}
	return expandTimeline(facts), nil
}

// GetChangesInWindow returns timeline events whose timestamp falls inside
// [from, to], optionally restricted to one subject.
func (t *TemporalStore) GetChangesInWindow(ctx context.Context, namespace string, from, to time.Time, subject string) ([]*store.TimelineEvent, error) {
	if namespace == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace is required")
	}
	if to.IsZero() {
		to = time.Now()
	}

	var (
		qb   strings.Builder
		args []any
	)
	// Any fact with an event inside the window: created there, or closed there.
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts WHERE namespace = ?
	AND ((valid_from BETWEEN ? AND ?) OR (valid_to IS NOT NULL AND valid_to BETWEEN ? AND ?))`)
	args = append(args, namespace, toMillis(from), toMillis(to), toMillis(from), toMillis(to))

	if subject != "" {
		qb.WriteString(` AND subject = ?`)
		args = append(args, subject)
	}

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "loading window changes")
	}
	facts, err := t.collectFacts(rows)
	if err != nil {
		return nil, err
	}

	events := expandTimeline(facts)
	filtered := events[:0]
	for _, e := range events {
		if !e.At.Before(from) && !e.At.After(to) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// CompareTimePoints snapshots the subject's active facts at t1 and t2 and
// classifies each predicate as added, removed, changed, or unchanged. The
// diff is pure application logic over the two snapshots.
func (t *TemporalStore) CompareTimePoints(ctx context.Context, namespace, subject string, t1, t2 time.Time) (*store.FactComparison, error) {
	if namespace == "" || subject == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace and subject are required")
	}

	before, err := t.QueryFactsAtTime(ctx, &store.FactQuery{Namespace: namespace, Subject: subject, At: t1})
	if err != nil {
		return nil, err
	}
	after, err := t.QueryFactsAtTime(ctx, &store.FactQuery{Namespace: namespace, Subject: subject, At: t2})
	if err != nil {
		return nil, err
	}

	// Results are confidence-desc ordered; the first fact per predicate is
	// the snapshot's representative value.
	byPredicate := func(facts []*store.TemporalFact) map[string]*store.TemporalFact {
		m := make(map[string]*store.TemporalFact, len(facts))
		for _, f := range facts {
			if _, ok := m[f.Predicate]; !ok {
				m[f.Predicate] = f
			}
		}
		return m
	}
	beforeMap := byPredicate(before)
	afterMap := byPredicate(after)

	cmp := &store.FactComparison{}
	for predicate, b := range beforeMap {
		a, ok := afterMap[predicate]
		switch {
		case !ok:
			cmp.Removed = append(cmp.Removed, b)
		case a.ID != b.ID || a.Object != b.Object:
			cmp.Changed = append(cmp.Changed, store.FactTransition{Before: b, After: a})
		default:
			cmp.Unchanged = append(cmp.Unchanged, a)
		}
	}
	for predicate, a := range afterMap {
		if _, ok := beforeMap[predicate]; !ok {
			cmp.Added = append(cmp.Added, a)
		}
	}
	return cmp, nil
}

// GetChangeFrequency aggregates change statistics for one (subject,
// predicate) pair: version count, mean closed-interval lifetime, and
// changes per day across the observed span.
func (t *TemporalStore) GetChangeFrequency(ctx context.Context, namespace, subject, predicate string) (*store.ChangeFrequency, error) {
	if namespace == "" || subject == "" || predicate == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, subject, and predicate are required")
	}

	const q = `SELECT COUNT(*), AVG(confidence), MIN(valid_from), MAX(valid_from),
	AVG(CASE WHEN valid_to IS NOT NULL THEN valid_to - valid_from END)
FROM temporal_facts
WHERE namespace = ? AND subject = ? AND predicate = ?`

	var (
		count               int
		avgConfidence       sql.NullFloat64
		firstSeen, lastSeen sql.NullInt64
		avgDurationMs       sql.NullFloat64
	)
	err := t.db.QueryRowContext(ctx, q, namespace, subject, predicate).
		Scan(&count, &avgConfidence, &firstSeen, &lastSeen, &avgDurationMs)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "aggregating change frequency")
	}
	if count == 0 {
		return nil, nil
	}

	cf := &store.ChangeFrequency{
		Subject:       subject,
		Predicate:     predicate,
		ChangeCount:   count,
		AvgConfidence: avgConfidence.Float64,
		FirstSeen:     fromMillis(firstSeen.Int64),
		LastChanged:   fromMillis(lastSeen.Int64),
	}
	if avgDurationMs.Valid {
		cf.AvgDuration = time.Duration(avgDurationMs.Float64) * time.Millisecond
	}
	cf.ChangesPerDay = changesPerDay(count, cf.FirstSeen, cf.LastChanged)
	return cf, nil
}

// GetVolatileFacts returns (subject, predicate) pairs with more than one
// recorded change, ordered so the least trusted but most changed knowledge
// surfaces first.
func (t *TemporalStore) GetVolatileFacts(ctx context.Context, namespace string, limit int) ([]*store.ChangeFrequency, error) {
	if namespace == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace is required")
	}
	if limit <= 0 {
		limit = defaultVolatileLimit
	}

	const q = `SELECT subject, predicate, COUNT(*), AVG(confidence), MIN(valid_from), MAX(valid_from),
	AVG(CASE WHEN valid_to IS NOT NULL THEN valid_to - valid_from END)
FROM temporal_facts
WHERE namespace = ?
GROUP BY subject, predicate
HAVING COUNT(*) > 1
ORDER BY COUNT(*) DESC, AVG(confidence) ASC
LIMIT ?`

	rows, err := t.db.QueryContext(ctx, q, namespace, limit)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "querying volatile facts")
	}
	defer func() { _ = rows.Close() }()

	var out []*store.ChangeFrequency
	for rows.Next() {
		var (
			cf            store.ChangeFrequency
			avgConfidence sql.NullFloat64
			first, last   int64
			avgDurationMs sql.NullFloat64
		)
		if err := rows.Scan(&cf.Subject, &cf.Predicate, &cf.ChangeCount,
			&avgConfidence, &first, &last, &avgDurationMs); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "scanning volatile fact")
		}
		cf.AvgConfidence = avgConfidence.Float64
		cf.FirstSeen = fromMillis(first)
		cf.LastChanged = fromMillis(last)
		if avgDurationMs.Valid {
			cf.AvgDuration = time.Duration(avgDurationMs.Float64) * time.Millisecond
		}
		cf.ChangesPerDay = changesPerDay(cf.ChangeCount, cf.FirstSeen, cf.LastChanged)
		out = append(out, &cf)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "iterating volatile facts")
	}
	return out, nil
}

// changesPerDay normalizes a change count over the observed span, with a
// one-day floor so short-lived keys do not report absurd rates.
func changesPerDay(count int, first, last time.Time) float64 {
	days := last.Sub(first).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(count) / days
}
