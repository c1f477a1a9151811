// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import (
	"time"

	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

// --- Vector types ---

// VectorPoint is one stored embedding, keyed by (MemoryID, Sector) within
// a namespace. At most one vector exists per key; upserts are idempotent.
type VectorPoint struct {
	MemoryID  string
	Sector    types.Sector
	Namespace string
	Vector    []float32
	Payload   types.Payload
	CreatedAt time.Time
}

// ID returns the composite point identifier (<memoryID>-<sector>).
func (p *VectorPoint) ID() string {
	return types.PointID(p.MemoryID, p.Sector)
}

// DefaultSearchLimit caps search results when the caller does not set one.
const DefaultSearchLimit = 10

// DefaultScoreThreshold is the inclusive lower bound on cosine similarity
// applied before truncating to the limit.
const DefaultScoreThreshold = 0.3

// SearchRequest describes a similarity search. Namespace and Sector narrow
// the search space; leaving Namespace empty searches every partition, which
// is only appropriate for administrative tooling.
type SearchRequest struct {
	Vector    []float32
	Sector    types.Sector // optional; restricts to one sector
	Namespace string       // optional; restricts to one partition
	Limit     int          // 0 means DefaultSearchLimit
	// ScoreThreshold is the inclusive minimum cosine similarity. A nil value
	// means DefaultScoreThreshold; set an explicit pointer to override,
	// including to values at or below zero.
	ScoreThreshold *float64
	Filters        types.Payload // equality filters on payload fields
	WithVectors    bool
}

// EffectiveLimit returns the result cap after defaulting.
func (r *SearchRequest) EffectiveLimit() int {
	if r.Limit <= 0 {
		return DefaultSearchLimit
	}
	return r.Limit
}

// EffectiveThreshold returns the score threshold after defaulting.
func (r *SearchRequest) EffectiveThreshold() float64 {
	if r.ScoreThreshold == nil {
		return DefaultScoreThreshold
	}
	return *r.ScoreThreshold
}

// ValidateFilters rejects non-scalar filter values. Payloads may store
// lists and nested maps, but equality filters are restricted to strings,
// booleans, and numbers: the indexed backend's match conditions cannot
// express composite values, and the relational backend mirrors the
// restriction so both backends reject the same requests.
func (r *SearchRequest) ValidateFilters() error {
	for k, v := range r.Filters {
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return engramerr.New(engramerr.CodeStoreVectorInvalidInput,
				"filter values must be scalar", engramerr.Field("key", k))
		}
	}
	return nil
}

// SearchResult is one similarity match, ordered by descending Score.
type SearchResult struct {
	ID       string // composite point id
	MemoryID string
	Sector   types.Sector
	Score    float64 // cosine similarity in [-1, 1]
	Vector   []float32
	Payload  types.Payload
}

// ScrollCursor resumes a Scroll. Callers treat it as opaque: the fields
// are backend-specific resume tokens passed back unchanged between calls.
type ScrollCursor struct {
	Partition string // indexed backend: the partition currently being drained
	Offset    string // position after the last returned point
}

// VectorStats aggregates vector counts across the whole backend. For the
// indexed backend this spans every namespace partition.
type VectorStats struct {
	TotalVectors int64
	BySector     map[types.Sector]int64
	LastUpdated  time.Time
}

// --- Temporal types ---

// TemporalFact is one row of the bitemporal ledger. A nil ValidTo marks the
// fact as open (currently believed true). Within a (namespace, subject,
// predicate) group at most one fact is open at any instant.
type TemporalFact struct {
	ID          string
	Namespace   string
	Subject     string
	Predicate   string
	Object      string
	ValidFrom   time.Time
	ValidTo     *time.Time
	Confidence  float64
	LastUpdated time.Time
	Metadata    types.Payload
}

// Open reports whether the fact is currently believed true.
func (f *TemporalFact) Open() bool { return f.ValidTo == nil }

// FactInput carries the fields for a new fact. A zero ValidFrom means now;
// a nil Confidence means 1.0.
type FactInput struct {
	Namespace  string
	Subject    string
	Predicate  string
	Object     string
	ValidFrom  time.Time
	Confidence *float64
	Metadata   types.Payload
}

// FactPatch is an in-place update of a fact's mutable fields. Nil fields
// are left untouched; validity is never modified through a patch.
type FactPatch struct {
	Confidence *float64
	Metadata   types.Payload
}

// TemporalEdge links two facts with its own validity interval. Unlike
// facts there is no uniqueness constraint on the relation type: multiple
// relations of the same type may coexist between two facts.
type TemporalEdge struct {
	ID           string
	Namespace    string
	SourceID     string
	TargetID     string
	RelationType string
	ValidFrom    time.Time
	ValidTo      *time.Time
	Weight       float64
	Metadata     types.Payload
}

// EdgeInput carries the fields for a new edge. A zero ValidFrom means now;
// a zero Weight means 1.0.
type EdgeInput struct {
	Namespace    string
	SourceID     string
	TargetID     string
	RelationType string
	ValidFrom    time.Time
	Weight       float64
	Metadata     types.Payload
}

// FactQuery filters point-in-time fact lookups. Empty string fields match
// anything; a zero At means now.
type FactQuery struct {
	Namespace     string
	Subject       string
	Predicate     string
	Object        string
	At            time.Time
	MinConfidence float64
}

// FactField names a searchable column for substring matching.
type FactField string

const (
	FactFieldSubject   FactField = "subject"
	FactFieldPredicate FactField = "predicate"
	FactFieldObject    FactField = "object"
)

// Valid reports whether f names a searchable field.
func (f FactField) Valid() bool {
	switch f {
	case FactFieldSubject, FactFieldPredicate, FactFieldObject:
		return true
	}
	return false
}

// RelatedFact is a one-hop traversal result: a neighboring fact plus the
// edge that reached it.
type RelatedFact struct {
	Fact     *TemporalFact
	Relation string
	Weight   float64
}

// TimelineEventType distinguishes the two events a fact can produce.
type TimelineEventType string

const (
	TimelineCreated     TimelineEventType = "created"
	TimelineInvalidated TimelineEventType = "invalidated"
)

// TimelineEvent is one entry in a reconstructed change history. Each fact
// expands into a created event at ValidFrom and, once closed, an
// invalidated event at ValidTo.
type TimelineEvent struct {
	Type TimelineEventType
	At   time.Time
	Fact *TemporalFact
}

// FactTransition pairs the before/after facts for a predicate whose value
// changed between two time points.
type FactTransition struct {
	Before *TemporalFact
	After  *TemporalFact
}

// FactComparison is the three-way diff of a subject's active facts at two
// time points, keyed by predicate.
type FactComparison struct {
	Added     []*TemporalFact
	Removed   []*TemporalFact
	Changed   []FactTransition
	Unchanged []*TemporalFact
}

// ChangeFrequency aggregates how often a (subject, predicate) pair has
// changed, used to flag unstable knowledge.
type ChangeFrequency struct {
	Subject       string
	Predicate     string
	ChangeCount   int
	AvgDuration   time.Duration // mean lifetime of closed facts
	ChangesPerDay float64
	AvgConfidence float64
	FirstSeen     time.Time
	LastChanged   time.Time
}

// --- Waypoint types ---

// Waypoint links a root document memory to one of its section memories.
type Waypoint struct {
	ID         string
	RootID     string
	ChildID    string
	Namespaces []string
	Weight     float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
