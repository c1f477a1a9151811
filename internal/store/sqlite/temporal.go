// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

// Compile-time interface check.
var _ store.TemporalStore = (*TemporalStore)(nil)

// TemporalStore implements the bitemporal fact ledger over SQLite. Facts
// and edges carry epoch-millisecond validity intervals; superseding a fact
// closes the previous one at ValidFrom-1ms inside the same transaction.
type TemporalStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemporalStore opens (or creates) a SQLite database at dbPath and
// initialises the temporal_facts and temporal_edges tables.
func NewTemporalStore(dbPath string) (*TemporalStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "opening temporal db")
	}

	if err := migrateTemporal(db); err != nil {
		_ = db.Close()
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "migrating temporal tables")
	}

	return &TemporalStore{db: db, logger: slog.Default()}, nil
}

func migrateTemporal(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS temporal_facts (
	id           TEXT PRIMARY KEY,
	namespace    TEXT NOT NULL,
	subject      TEXT NOT NULL,
	predicate    TEXT NOT NULL,
	object       TEXT NOT NULL,
	valid_from   INTEGER NOT NULL,
	valid_to     INTEGER,
	confidence   REAL NOT NULL DEFAULT 1.0 CHECK (confidence >= 0.0 AND confidence <= 1.0),
	last_updated INTEGER NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}',
	UNIQUE(namespace, subject, predicate, object, valid_from)
);

CREATE INDEX IF NOT EXISTS idx_facts_key ON temporal_facts(namespace, subject, predicate, valid_to);
CREATE INDEX IF NOT EXISTS idx_facts_validity ON temporal_facts(namespace, valid_from, valid_to);

CREATE TABLE IF NOT EXISTS temporal_edges (
	id            TEXT PRIMARY KEY,
	namespace     TEXT NOT NULL,
	source_id     TEXT NOT NULL REFERENCES temporal_facts(id) ON DELETE CASCADE,
	target_id     TEXT NOT NULL REFERENCES temporal_facts(id) ON DELETE CASCADE,
	relation_type TEXT NOT NULL,
	valid_from    INTEGER NOT NULL,
	valid_to      INTEGER,
	weight        REAL NOT NULL DEFAULT 1.0,
	metadata      TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON temporal_edges(namespace, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON temporal_edges(namespace, target_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (t *TemporalStore) Close() error {
	return t.db.Close()
}

func validateFactInput(in *store.FactInput) error {
	if in.Namespace == "" || in.Subject == "" || in.Predicate == "" || in.Object == "" {
		return engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, subject, predicate, and object are required")
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "confidence outside [0, 1]",
			engramerr.Field("confidence", *in.Confidence))
	}
	if err := in.Metadata.Validate(); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "invalid metadata")
	}
	return nil
}

// InsertFact supersedes the previous value of a predicate. The read, the
// closes, and the insert all run in one transaction, which serializes
// concurrent inserts for the same key at the database level.
func (t *TemporalStore) InsertFact(ctx context.Context, in *store.FactInput) (*store.TemporalFact, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "beginning fact transaction")
	}
	defer func() { _ = tx.Rollback() }()

	fact, err := t.insertFactTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "committing fact insert")
	}
	return fact, nil
}

func (t *TemporalStore) insertFactTx(ctx context.Context, tx *sql.Tx, in *store.FactInput) (*store.TemporalFact, error) {
	if err := validateFactInput(in); err != nil {
		return nil, err
	}

	now := time.Now()
	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	confidence := 1.0
	if in.Confidence != nil {
		confidence = *in.Confidence
	}

	// Close every open fact for the key that started earlier. Normally at
	// most one is open, but a degenerate state with several is tolerated
	// by closing all of them.
	const closeQ = `UPDATE temporal_facts
SET valid_to = ?, last_updated = ?
WHERE namespace = ? AND subject = ? AND predicate = ?
	AND valid_to IS NULL AND valid_from < ?`

	_, err := tx.ExecContext(ctx, closeQ,
		toMillis(validFrom)-1, toMillis(now),
		in.Namespace, in.Subject, in.Predicate, toMillis(validFrom),
	)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "closing superseded facts")
	}

	metaJSON, err := in.Metadata.MarshalJSONString()
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "marshalling metadata")
	}

	fact := &store.TemporalFact{
		ID:          uuid.NewString(),
		Namespace:   in.Namespace,
		Subject:     in.Subject,
		Predicate:   in.Predicate,
		Object:      in.Object,
		ValidFrom:   validFrom,
		Confidence:  confidence,
		LastUpdated: now,
		Metadata:    in.Metadata.Clone(),
	}

	const insertQ = `INSERT INTO temporal_facts
(id, namespace, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata)
VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertQ,
		fact.ID, fact.Namespace, fact.Subject, fact.Predicate, fact.Object,
		toMillis(fact.ValidFrom), fact.Confidence, toMillis(fact.LastUpdated), metaJSON,
	)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "inserting fact",
			engramerr.FieldNamespace(in.Namespace),
			engramerr.Field("subject", in.Subject), engramerr.Field("predicate", in.Predicate))
	}
	return fact, nil
}

// BatchInsertFacts wraps the whole list in one transaction; any failure
// rolls back the entire batch.
func (t *TemporalStore) BatchInsertFacts(ctx context.Context, ins []*store.FactInput) ([]*store.TemporalFact, error) {
	if len(ins) == 0 {
		return nil, nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "beginning batch transaction")
	}
	defer func() { _ = tx.Rollback() }()

	facts := make([]*store.TemporalFact, 0, len(ins))
	for i, in := range ins {
		fact, err := t.insertFactTx(ctx, tx, in)
		if err != nil {
			return nil, engramerr.With(err, engramerr.Field("batch_index", i))
		}
		facts = append(facts, fact)
	}

	if err := tx.Commit(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "committing fact batch")
	}
	return facts, nil
}

// UpdateFact patches confidence and/or metadata in place.
func (t *TemporalStore) UpdateFact(ctx context.Context, id string, patch *store.FactPatch) error {
	if patch == nil || (patch.Confidence == nil && patch.Metadata == nil) {
		return engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "empty fact patch")
	}
	if patch.Confidence != nil && (*patch.Confidence < 0 || *patch.Confidence > 1) {
		return engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "confidence outside [0, 1]",
			engramerr.Field("confidence", *patch.Confidence))
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`UPDATE temporal_facts SET last_updated = ?`)
	args = append(args, toMillis(time.Now()))

	if patch.Confidence != nil {
		qb.WriteString(`, confidence = ?`)
		args = append(args, *patch.Confidence)
	}
	if patch.Metadata != nil {
		if err := patch.Metadata.Validate(); err != nil {
			return engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "invalid metadata")
		}
		metaJSON, err := patch.Metadata.MarshalJSONString()
		if err != nil {
			return engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "marshalling metadata")
		}
		qb.WriteString(`, metadata = ?`)
		args = append(args, metaJSON)
	}

	qb.WriteString(` WHERE id = ?`)
	args = append(args, id)

	res, err := t.db.ExecContext(ctx, qb.String(), args...)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "updating fact",
			engramerr.Field("fact_id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.New(engramerr.CodeStoreTemporalNotFound, "fact not found",
			engramerr.Field("fact_id", id))
	}
	return nil
}

// InvalidateFact closes the fact's interval without a superseding insert.
func (t *TemporalStore) InvalidateFact(ctx context.Context, id string, validTo time.Time) error {
	if validTo.IsZero() {
		validTo = time.Now()
	}

	const q = `UPDATE temporal_facts SET valid_to = ?, last_updated = ? WHERE id = ?`
	res, err := t.db.ExecContext(ctx, q, toMillis(validTo), toMillis(time.Now()), id)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "invalidating fact",
			engramerr.Field("fact_id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.New(engramerr.CodeStoreTemporalNotFound, "fact not found",
			engramerr.Field("fact_id", id))
	}
	return nil
}

// DeleteFact hard-deletes a fact; edges referencing it cascade.
func (t *TemporalStore) DeleteFact(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM temporal_facts WHERE id = ?`, id)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "deleting fact",
			engramerr.Field("fact_id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.New(engramerr.CodeStoreTemporalNotFound, "fact not found",
			engramerr.Field("fact_id", id))
	}
	return nil
}

// ApplyConfidenceDecay multiplies every open fact's confidence by
// (1 - rate*ageInDays), floored at 0.1. Rows already at the floor are left
// untouched, and so are facts whose valid_from is still in the future:
// their age is negative, which would raise confidence instead of decaying
// it. The sweep is global across namespaces: the forgetting curve applies
// to the whole deployment.
func (t *TemporalStore) ApplyConfidenceDecay(ctx context.Context, rate float64) (int64, error) {
	if rate <= 0 || rate >= 1 {
		return 0, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "decay rate outside (0, 1)",
			engramerr.Field("rate", rate))
	}

	now := toMillis(time.Now())
	const q = `UPDATE temporal_facts
SET confidence = MAX(0.1, confidence * (1.0 - ? * ((? - valid_from) / 86400000.0))),
	last_updated = ?
WHERE valid_to IS NULL AND confidence > 0.1 AND valid_from <= ?`

	res, err := t.db.ExecContext(ctx, q, rate, now, now, now)
	if err != nil {
		return 0, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "applying confidence decay")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertEdge records a relation between two facts. No uniqueness applies
// to relation types: parallel edges are allowed.
func (t *TemporalStore) InsertEdge(ctx context.Context, in *store.EdgeInput) (*store.TemporalEdge, error) {
	if in.Namespace == "" || in.SourceID == "" || in.TargetID == "" || in.RelationType == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput,
			"namespace, source, target, and relation type are required")
	}
	if err := in.Metadata.Validate(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "invalid metadata")
	}

	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = time.Now()
	}
	weight := in.Weight
	if weight == 0 {
		weight = 1.0
	}

	metaJSON, err := in.Metadata.MarshalJSONString()
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalInvalidInput, "marshalling metadata")
	}

	edge := &store.TemporalEdge{
		ID:           uuid.NewString(),
		Namespace:    in.Namespace,
		SourceID:     in.SourceID,
		TargetID:     in.TargetID,
		RelationType: in.RelationType,
		ValidFrom:    validFrom,
		Weight:       weight,
		Metadata:     in.Metadata.Clone(),
	}

	const q = `INSERT INTO temporal_edges
(id, namespace, source_id, target_id, relation_type, valid_from, valid_to, weight, metadata)
VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`

	_, err = t.db.ExecContext(ctx, q,
		edge.ID, edge.Namespace, edge.SourceID, edge.TargetID, edge.RelationType,
		toMillis(edge.ValidFrom), edge.Weight, metaJSON,
	)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "inserting edge",
			engramerr.FieldNamespace(in.Namespace))
	}
	return edge, nil
}

// InvalidateEdge closes an edge's validity interval.
func (t *TemporalStore) InvalidateEdge(ctx context.Context, id string, validTo time.Time) error {
	if validTo.IsZero() {
		validTo = time.Now()
	}

	res, err := t.db.ExecContext(ctx,
		`UPDATE temporal_edges SET valid_to = ? WHERE id = ?`, toMillis(validTo), id)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreTemporalDatabaseFailure, "invalidating edge",
			engramerr.Field("edge_id", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.New(engramerr.CodeStoreTemporalNotFound, "edge not found",
			engramerr.Field("edge_id", id))
	}
	return nil
}

// factColumns is the SELECT list scanFact expects, in order.
const factColumns = `id, namespace, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *TemporalStore) scanFact(row rowScanner) (*store.TemporalFact, error) {
	var (
		f         store.TemporalFact
		validFrom int64
		validTo   sql.NullInt64
		updated   int64
		metaStr   string
	)
	if err := row.Scan(&f.ID, &f.Namespace, &f.Subject, &f.Predicate, &f.Object,
		&validFrom, &validTo, &f.Confidence, &updated, &metaStr); err != nil {
		return nil, err
	}

	f.ValidFrom = fromMillis(validFrom)
	f.ValidTo = millisPtr(validTo)
	f.LastUpdated = fromMillis(updated)

	meta, err := types.ParsePayload(metaStr)
	if err != nil {
		t.logger.Warn("fact carries corrupt metadata, returning without it",
			slog.String("fact_id", f.ID), slog.String("error", err.Error()))
	} else {
		f.Metadata = meta
	}
	return &f, nil
}

func (t *TemporalStore) collectFacts(rows *sql.Rows) ([]*store.TemporalFact, error) {
	defer func() { _ = rows.Close() }()

	var facts []*store.TemporalFact
	for rows.Next() {
		f, err := t.scanFact(rows)
		if err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "scanning fact row")
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreTemporalDatabaseFailure, "iterating fact rows")
	}
	return facts, nil
}
