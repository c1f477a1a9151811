// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import (
	"context"
	"time"
)

// TemporalStore is the bitemporal fact ledger plus its query and timeline
// engine. Facts are append-mostly: history is superseded by closing the
// previous open fact, never rewritten.
type TemporalStore interface {
	// InsertFact records a new fact. Every currently-open fact for the
	// same (namespace, subject, predicate) whose ValidFrom precedes the
	// new fact's is closed at ValidFrom-1ms, inside the same transaction,
	// so intervals never overlap. If multiple open facts exist (a state
	// that should not normally occur) all earlier ones are closed.
	InsertFact(ctx context.Context, in *FactInput) (*TemporalFact, error)

	// UpdateFact patches confidence and/or metadata plus LastUpdated.
	// Validity is never touched.
	UpdateFact(ctx context.Context, id string, patch *FactPatch) error

	// InvalidateFact closes a fact without a superseding insert: the fact
	// stopped being true and nothing replaces it. A zero validTo means now.
	InvalidateFact(ctx context.Context, id string, validTo time.Time) error

	// DeleteFact hard-deletes a fact and its edges, removing history.
	// Distinct from InvalidateFact; use sparingly.
	DeleteFact(ctx context.Context, id string) error

	// BatchInsertFacts inserts all facts in one transaction; any failure
	// rolls back the entire batch.
	BatchInsertFacts(ctx context.Context, ins []*FactInput) ([]*TemporalFact, error)

	// ApplyConfidenceDecay multiplies every open fact's confidence by
	// (1 - rate*ageInDays), floored at 0.1, and returns the number of
	// rows touched. The sweep is global across namespaces.
	ApplyConfidenceDecay(ctx context.Context, rate float64) (int64, error)

	// InsertEdge records a relation between two facts. Multiple edges of
	// the same relation type may coexist between the same pair.
	InsertEdge(ctx context.Context, in *EdgeInput) (*TemporalEdge, error)

	// InvalidateEdge closes an edge's validity interval.
	InvalidateEdge(ctx context.Context, id string, validTo time.Time) error

	// QueryFactsAtTime returns facts whose interval covers q.At, ordered
	// by confidence desc then ValidFrom desc.
	QueryFactsAtTime(ctx context.Context, q *FactQuery) ([]*TemporalFact, error)

	// GetCurrentFact returns the open fact with the latest ValidFrom for
	// the key, or nil when none exists.
	GetCurrentFact(ctx context.Context, namespace, subject, predicate string) (*TemporalFact, error)

	// QueryFactsInRange returns facts active at any point in [from, to]
	// or whose ValidFrom falls inside the window.
	QueryFactsInRange(ctx context.Context, namespace, subject, predicate string, from, to time.Time) ([]*TemporalFact, error)

	// FindConflictingFacts returns every fact active at `at` for the same
	// subject and predicate, surfacing contradictions for predicates that
	// should be single-valued. A zero at means now.
	FindConflictingFacts(ctx context.Context, namespace, subject, predicate string, at time.Time) ([]*TemporalFact, error)

	// GetFactsBySubject returns either the subject's full history
	// (ordered by predicate, then recency) or only facts active at `at`.
	GetFactsBySubject(ctx context.Context, namespace, subject string, at time.Time, includeHistorical bool) ([]*TemporalFact, error)

	// SearchFacts substring-matches one field across currently-active
	// facts, capped at 100 rows.
	SearchFacts(ctx context.Context, namespace, pattern string, field FactField, at time.Time) ([]*TemporalFact, error)

	// GetRelatedFacts walks one hop over edges from factID, returning
	// neighbors whose edge and fact are both active at `at`, ordered by
	// weight desc then confidence desc.
	GetRelatedFacts(ctx context.Context, namespace, factID, relationType string, at time.Time) ([]*RelatedFact, error)

	// GetSubjectTimeline expands each of the subject's facts into up to
	// two events (created/invalidated), sorted chronologically.
	GetSubjectTimeline(ctx context.Context, namespace, subject string) ([]*TimelineEvent, error)

	// GetPredicateTimeline is GetSubjectTimeline narrowed to one predicate.
	GetPredicateTimeline(ctx context.Context, namespace, subject, predicate string) ([]*TimelineEvent, error)

	// GetChangesInWindow returns timeline events whose timestamp falls in
	// [from, to], optionally restricted to one subject.
	GetChangesInWindow(ctx context.Context, namespace string, from, to time.Time, subject string) ([]*TimelineEvent, error)

	// CompareTimePoints snapshots the subject's active facts at t1 and t2
	// and classifies each predicate as added, removed, changed, or
	// unchanged.
	CompareTimePoints(ctx context.Context, namespace, subject string, t1, t2 time.Time) (*FactComparison, error)

	// GetChangeFrequency aggregates change statistics for one
	// (subject, predicate) pair.
	GetChangeFrequency(ctx context.Context, namespace, subject, predicate string) (*ChangeFrequency, error)

	// GetVolatileFacts returns pairs with more than one change, ordered
	// by change count desc then average confidence asc, so the least
	// trusted but most changed knowledge surfaces first.
	GetVolatileFacts(ctx context.Context, namespace string, limit int) ([]*ChangeFrequency, error)

	Close() error
}
