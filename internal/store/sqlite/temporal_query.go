// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

// defaultMinConfidence filters out fully-decayed facts from point-in-time
// queries unless the caller overrides it.
const defaultMinConfidence = 0.1

// searchFactsCap bounds SearchFacts result sets.
const searchFactsCap = 100

// activeAt appends the half-open interval predicate for the given instant:
// valid_from <= at AND (valid_to IS NULL OR valid_to >= at).
func activeAt(qb *strings.Builder, args *[]any, at time.Time) {
	qb.WriteString(` AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)`)
	*args = append(*args, toMillis(at), toMillis(at))
}

// QueryFactsAtTime returns facts whose interval covers q.At, ordered by
// confidence desc then recency desc.
func (t *TemporalStore) QueryFactsAtTime(ctx context.Context, q *store.FactQuery) ([]*store.TemporalFact, error) {
	if q.Namespace == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace is required")
	}

	at := q.At
	if at.IsZero() {
		at = time.Now()
	}
	minConfidence := q.MinConfidence
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts WHERE namespace = ?`)
	args = append(args, q.Namespace)

	if q.Subject != "" {
		qb.WriteString(` AND subject = ?`)
		args = append(args, q.Subject)
	}
	if q.Predicate != "" {
		qb.WriteString(` AND predicate = ?`)
		args = append(args, q.Predicate)
	}
	if q.Object != "" {
		qb.WriteString(` AND object = ?`)
		args = append(args, q.Object)
	}

	activeAt(&qb, &args, at)
	qb.WriteString(` AND confidence >= ?`)
	args = append(args, minConfidence)
	qb.WriteString(` ORDER BY confidence DESC, valid_from DESC`)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "querying facts at time")
	}
	return t.collectFacts(rows)
}

// GetCurrentFact returns the open fact with the latest valid_from for the
// key, or nil when the key has no open fact.
func (t *TemporalStore) GetCurrentFact(ctx context.Context, namespace, subject, predicate string) (*store.TemporalFact, error) {
	if namespace == "" || subject == "" || predicate == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, subject, and predicate are required")
	}

	const q = `SELECT ` + factColumns + ` FROM temporal_facts
WHERE namespace = ? AND subject = ? AND predicate = ? AND valid_to IS NULL
ORDER BY valid_from DESC LIMIT 1`

	fact, err := t.scanFact(t.db.QueryRowContext(ctx, q, namespace, subject, predicate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "getting current fact")
	}
	return fact, nil
}

// QueryFactsInRange returns facts active at any point during [from, to],
// which includes facts that both started and ended inside the window.
func (t *TemporalStore) QueryFactsInRange(ctx context.Context, namespace, subject, predicate string, from, to time.Time) ([]*store.TemporalFact, error) {
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
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts WHERE namespace = ?`)
	args = append(args, namespace)

	if subject != "" {
		qb.WriteString(` AND subject = ?`)
		args = append(args, subject)
	}
	if predicate != "" {
		qb.WriteString(` AND predicate = ?`)
		args = append(args, predicate)
	}

	qb.WriteString(` AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)`)
	args = append(args, toMillis(to), toMillis(from))
	qb.WriteString(` ORDER BY valid_from ASC`)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "querying facts in range")
	}
	return t.collectFacts(rows)
}

// FindConflictingFacts returns every fact active at `at` for one subject
// and predicate. More than one result means a single-valued predicate is
// contradicted.
func (t *TemporalStore) FindConflictingFacts(ctx context.Context, namespace, subject, predicate string, at time.Time) ([]*store.TemporalFact, error) {
	if namespace == "" || subject == "" || predicate == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, subject, and predicate are required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts
WHERE namespace = ? AND subject = ? AND predicate = ?`)
	args = append(args, namespace, subject, predicate)
	activeAt(&qb, &args, at)
	qb.WriteString(` ORDER BY confidence DESC, valid_from DESC`)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "finding conflicting facts")
	}
	return t.collectFacts(rows)
}

// GetFactsBySubject returns either the subject's full history or only the
// facts active at `at`, ordered by predicate then recency.
func (t *TemporalStore) GetFactsBySubject(ctx context.Context, namespace, subject string, at time.Time, includeHistorical bool) ([]*store.TemporalFact, error) {
	if namespace == "" || subject == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace and subject are required")
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts WHERE namespace = ? AND subject = ?`)
	args = append(args, namespace, subject)

	if !includeHistorical {
		if at.IsZero() {
			at = time.Now()
		}
		activeAt(&qb, &args, at)
	}
	qb.WriteString(` ORDER BY predicate ASC, valid_from DESC`)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "getting facts by subject")
	}
	return t.collectFacts(rows)
}

// SearchFacts substring-matches one field across facts active at `at`,
// capped at 100 rows.
func (t *TemporalStore) SearchFacts(ctx context.Context, namespace, pattern string, field store.FactField, at time.Time) ([]*store.TemporalFact, error) {
	if namespace == "" || pattern == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace and pattern are required")
	}
	if !field.Valid() {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "unknown search field",
			engramerr.Field("field", string(field)))
	}
	if at.IsZero() {
		at = time.Now()
	}

	var (
		qb   strings.Builder
		args []any
	)
	// field is validated against the FactField enum above; it is never
	// raw caller input.
	qb.WriteString(`SELECT ` + factColumns + ` FROM temporal_facts
WHERE namespace = ? AND ` + string(field) + ` LIKE ?`)
	args = append(args, namespace, "%"+pattern+"%")
	activeAt(&qb, &args, at)
	qb.WriteString(` ORDER BY valid_from DESC LIMIT ?`)
	args = append(args, searchFactsCap)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "searching facts")
	}
	return t.collectFacts(rows)
}

// GetRelatedFacts walks one hop over edges from factID. Both the edge and
// the neighboring fact must be active at `at`. Results are ordered by edge
// weight desc, then the neighbor's confidence desc.
func (t *TemporalStore) GetRelatedFacts(ctx context.Context, namespace, factID, relationType string, at time.Time) ([]*store.RelatedFact, error) {
	if namespace == "" || factID == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "namespace and fact id are required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	atMs := toMillis(at)

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT f.id, f.namespace, f.subject, f.predicate, f.object,
	f.valid_from, f.valid_to, f.confidence, f.last_updated, f.metadata,
	e.relation_type, e.weight
FROM temporal_edges e
JOIN temporal_facts f ON f.id = CASE WHEN e.source_id = ? THEN e.target_id ELSE e.source_id END
WHERE e.namespace = ? AND (e.source_id = ? OR e.target_id = ?)
	AND e.valid_from <= ? AND (e.valid_to IS NULL OR e.valid_to >= ?)
	AND f.valid_from <= ? AND (f.valid_to IS NULL OR f.valid_to >= ?)`)
	args = append(args, factID, namespace, factID, factID, atMs, atMs, atMs, atMs)

	if relationType != "" {
		qb.WriteString(` AND e.relation_type = ?`)
		args = append(args, relationType)
	}
	qb.WriteString(` ORDER BY e.weight DESC, f.confidence DESC`)

	rows, err := t.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "getting related facts")
	}
	defer func() { _ = rows.Close() }()

	var related []*store.RelatedFact
	for rows.Next() {
		var (
			f         store.TemporalFact
			validFrom int64
			validTo   sql.NullInt64
			updated   int64
			metaStr   string
			relation  string
			weight    float64
		)
		if err := rows.Scan(&f.ID, &f.Namespace, &f.Subject, &f.Predicate, &f.Object,
			&validFrom, &validTo, &f.Confidence, &updated, &metaStr, &relation, &weight); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "scanning related fact")
		}
		f.ValidFrom = fromMillis(validFrom)
		f.ValidTo = millisPtr(validTo)
		f.LastUpdated = fromMillis(updated)
		// Corrupt metadata is tolerated on this read path.
		f.Metadata, _ = types.ParsePayload(metaStr)

		related = append(related, &store.RelatedFact{Fact: &f, Relation: relation, Weight: weight})
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "iterating related facts")
	}
	return related, nil
}
