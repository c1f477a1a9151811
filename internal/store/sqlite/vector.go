// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore is the relational fallback backend. Vectors live as opaque
// blobs in one shared table; the namespace column is a filter predicate,
// not a physical partition, so every namespace-scoped operation must carry
// the namespace into its WHERE clause.
//
// Search is a brute-force scan: every row for the requested sector is
// read, deserialized, and scored. This is O(n) per query and is the
// backend's known scalability ceiling.
type VectorStore struct {
	dbPath     string
	dimensions int
	logger     *slog.Logger

	mu sync.Mutex
	db *sql.DB // nil until Initialize, nil again after Close
}

// NewVectorStore creates an unopened store over dbPath. Initialize (called
// directly or lazily by the first operation) opens the database and runs
// migrations.
func NewVectorStore(dbPath string, dimensions int, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{dbPath: dbPath, dimensions: dimensions, logger: logger}
}

// Initialize opens the database and creates the vectors table. It is
// idempotent and safe to call after Close.
func (v *VectorStore) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.initLocked(ctx)
}

func (v *VectorStore) initLocked(ctx context.Context) error {
	if v.db != nil {
		return nil
	}

	db, err := openDB(v.dbPath)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "opening vector db")
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS vectors (
	memory_id   TEXT NOT NULL,
	sector      TEXT NOT NULL,
	namespace   TEXT NOT NULL DEFAULT '',
	vector_blob BLOB NOT NULL,
	dimension   INTEGER NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (memory_id, sector)
);

CREATE INDEX IF NOT EXISTS idx_vectors_namespace ON vectors(namespace);
CREATE INDEX IF NOT EXISTS idx_vectors_sector ON vectors(sector);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "migrating vector table")
	}

	v.db = db
	return nil
}

// conn returns the open database, re-initializing after a Close so
// operations never act on stale state.
func (v *VectorStore) conn(ctx context.Context) (*sql.DB, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		if err := v.initLocked(ctx); err != nil {
			return nil, err
		}
	}
	return v.db, nil
}

func (v *VectorStore) validatePoint(p *store.VectorPoint) error {
	if p.MemoryID == "" {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "memory id is empty")
	}
	if !p.Sector.Valid() {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "unknown sector",
			engramerr.FieldSector(string(p.Sector)))
	}
	if len(p.Vector) != v.dimensions {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "vector dimension mismatch",
			engramerr.Field("want", v.dimensions), engramerr.Field("got", len(p.Vector)))
	}
	if err := p.Payload.Validate(); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorInvalidInput, "invalid payload")
	}
	return nil
}

// Upsert inserts or replaces the vector at (memory_id, sector).
func (v *VectorStore) Upsert(ctx context.Context, point *store.VectorPoint) error {
	db, err := v.conn(ctx)
	if err != nil {
		return err
	}
	return v.upsertOne(ctx, db, point)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (v *VectorStore) upsertOne(ctx context.Context, db execer, point *store.VectorPoint) error {
	if err := v.validatePoint(point); err != nil {
		return err
	}

	blob, err := encodeVector(point.Vector)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorInvalidInput, "serializing vector")
	}
	payloadJSON, err := point.Payload.MarshalJSONString()
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorInvalidInput, "marshalling payload")
	}

	createdAt := point.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `INSERT INTO vectors (memory_id, sector, namespace, vector_blob, dimension, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(memory_id, sector) DO UPDATE SET
	namespace = excluded.namespace,
	vector_blob = excluded.vector_blob,
	dimension = excluded.dimension,
	payload = excluded.payload,
	created_at = excluded.created_at`

	_, err = db.ExecContext(ctx, q,
		point.MemoryID, string(point.Sector), point.Namespace,
		blob, len(point.Vector), payloadJSON, toMillis(createdAt),
	)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreVectorDatabaseFailure, "upserting vector",
			engramerr.FieldMemoryID(point.MemoryID), engramerr.FieldSector(string(point.Sector)))
	}
	return nil
}

// BatchUpsert groups points by namespace, then writes each group in
// batches of store.BatchSize, each batch in its own transaction. The
// returned count covers every batch committed before a failure.
func (v *VectorStore) BatchUpsert(ctx context.Context, points []*store.VectorPoint) (int, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return 0, err
	}

	// Group by namespace, preserving each group's list order.
	order := make([]string, 0)
	groups := make(map[string][]*store.VectorPoint)
	for _, p := range points {
		if _, ok := groups[p.Namespace]; !ok {
			order = append(order, p.Namespace)
		}
		groups[p.Namespace] = append(groups[p.Namespace], p)
	}

	written := 0
	for _, ns := range order {
		group := groups[ns]
		for start := 0; start < len(group); start += store.BatchSize {
			end := min(start+store.BatchSize, len(group))
			if err := v.upsertBatch(ctx, db, group[start:end]); err != nil {
				return written, engramerr.With(err, engramerr.FieldNamespace(ns))
			}
			written += end - start
		}
	}
	return written, nil
}

func (v *VectorStore) upsertBatch(ctx context.Context, db *sql.DB, batch []*store.VectorPoint) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "beginning batch transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range batch {
		if err := v.upsertOne(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "committing batch")
	}
	return nil
}

// Search scans every row matching the sector/namespace predicates, scores
// each stored vector by cosine similarity, and returns matches at or above
// the threshold, best first. O(n) in the sector's row count.
func (v *VectorStore) Search(ctx context.Context, req *store.SearchRequest) ([]*store.SearchResult, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != v.dimensions {
		return nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "query vector dimension mismatch",
			engramerr.Field("want", v.dimensions), engramerr.Field("got", len(req.Vector)))
	}
	if err := req.ValidateFilters(); err != nil {
		return nil, err
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT memory_id, sector, namespace, vector_blob, payload FROM vectors WHERE 1=1`)
	if req.Sector != "" {
		qb.WriteString(` AND sector = ?`)
		args = append(args, string(req.Sector))
	}
	if req.Namespace != "" {
		qb.WriteString(` AND namespace = ?`)
		args = append(args, req.Namespace)
	}

	rows, err := db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scanning vectors")
	}
	defer func() { _ = rows.Close() }()

	threshold := req.EffectiveThreshold()
	var results []*store.SearchResult
	for rows.Next() {
		var (
			memoryID, sector, namespace, payloadStr string
			blob                                    []byte
		)
		if err := rows.Scan(&memoryID, &sector, &namespace, &blob, &payloadStr); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scanning vector row")
		}

		vec, err := decodeVector(blob)
		if err != nil || len(vec) != v.dimensions {
			v.logger.Warn("skipping vector with corrupt blob",
				slog.String("memory_id", memoryID), slog.String("sector", sector))
			continue
		}

		payload, err := types.ParsePayload(payloadStr)
		if err != nil {
			v.logger.Warn("skipping vector with corrupt payload",
				slog.String("memory_id", memoryID), slog.String("sector", sector))
			continue
		}
		if !payloadMatches(payload, req.Filters) {
			continue
		}

		score := cosineSimilarity(req.Vector, vec)
		if score < threshold {
			continue
		}

		res := &store.SearchResult{
			ID:       types.PointID(memoryID, types.Sector(sector)),
			MemoryID: memoryID,
			Sector:   types.Sector(sector),
			Score:    score,
			Payload:  payload,
		}
		if req.WithVectors {
			res.Vector = vec
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "iterating vector rows")
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit := req.EffectiveLimit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// payloadMatches applies equality filters against a stored payload.
// Filter values are scalars (enforced by ValidateFilters); stored numbers
// round-trip through JSON as float64, so numeric comparison happens by
// value rather than by Go type.
func payloadMatches(payload, filters types.Payload) bool {
	for k, want := range filters {
		if !scalarEqual(payload[k], want) {
			return false
		}
	}
	return true
}

func scalarEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		wf, wok := toFloat(want)
		return wok && gf == wf
	}
	switch got.(type) {
	case nil, string, bool:
		return got == want
	}
	// Composite stored values never match a scalar filter.
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// GetVector returns the stored vector or nil. When a namespace is given,
// the row must belong to it; a mismatch reads as not-found rather than an
// error, preserving isolation without leaking existence.
func (v *VectorStore) GetVector(ctx context.Context, memoryID string, sector types.Sector, namespace string) ([]float32, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return nil, err
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT vector_blob FROM vectors WHERE memory_id = ? AND sector = ?`)
	args = append(args, memoryID, string(sector))
	if namespace != "" {
		qb.WriteString(` AND namespace = ?`)
		args = append(args, namespace)
	}

	var blob []byte
	err = db.QueryRowContext(ctx, qb.String(), args...).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreVectorDatabaseFailure, "getting vector",
			engramerr.FieldMemoryID(memoryID))
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreVectorDatabaseFailure, "decoding vector",
			engramerr.FieldMemoryID(memoryID))
	}
	return vec, nil
}

// GetVectorsBySector returns all per-sector vectors for a memory id.
func (v *VectorStore) GetVectorsBySector(ctx context.Context, memoryID string, namespace string) (map[types.Sector][]float32, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return nil, err
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT sector, vector_blob FROM vectors WHERE memory_id = ?`)
	args = append(args, memoryID)
	if namespace != "" {
		qb.WriteString(` AND namespace = ?`)
		args = append(args, namespace)
	}

	rows, err := db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreVectorDatabaseFailure, "getting sector vectors",
			engramerr.FieldMemoryID(memoryID))
	}
	defer func() { _ = rows.Close() }()

	out := make(map[types.Sector][]float32)
	for rows.Next() {
		var sector string
		var blob []byte
		if err := rows.Scan(&sector, &blob); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scanning sector vector")
		}
		vec, err := decodeVector(blob)
		if err != nil {
			v.logger.Warn("skipping corrupt sector vector",
				slog.String("memory_id", memoryID), slog.String("sector", sector))
			continue
		}
		out[types.Sector(sector)] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "iterating sector vectors")
	}
	return out, nil
}

// Delete removes one sector's vector, or all sectors when sector is empty.
// The namespace predicate rides in the DELETE itself, so ownership is
// enforced atomically; a mismatch deletes nothing.
func (v *VectorStore) Delete(ctx context.Context, memoryID string, sector types.Sector, namespace string) error {
	_, err := v.deleteWhere(ctx, []string{memoryID}, sector, namespace)
	return err
}

// BatchDelete bulk-deletes and returns the affected row count.
func (v *VectorStore) BatchDelete(ctx context.Context, memoryIDs []string, sector types.Sector, namespace string) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	return v.deleteWhere(ctx, memoryIDs, sector, namespace)
}

func (v *VectorStore) deleteWhere(ctx context.Context, memoryIDs []string, sector types.Sector, namespace string) (int, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return 0, err
	}

	placeholders := strings.Repeat("?,", len(memoryIDs))
	placeholders = placeholders[:len(placeholders)-1]

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`DELETE FROM vectors WHERE memory_id IN (` + placeholders + `)`)
	for _, id := range memoryIDs {
		args = append(args, id)
	}
	if sector != "" {
		qb.WriteString(` AND sector = ?`)
		args = append(args, string(sector))
	}
	if namespace != "" {
		qb.WriteString(` AND namespace = ?`)
		args = append(args, namespace)
	}

	res, err := db.ExecContext(ctx, qb.String(), args...)
	if err != nil {
		return 0, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "deleting vectors")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Scroll pages through the vectors table in rowid order. The cursor
// offset is the last rowid returned.
func (v *VectorStore) Scroll(ctx context.Context, namespace string, cursor *store.ScrollCursor, limit int) ([]*store.VectorPoint, *store.ScrollCursor, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = store.BatchSize
	}

	var after int64
	if cursor != nil && cursor.Offset != "" {
		after, err = strconv.ParseInt(cursor.Offset, 10, 64)
		if err != nil {
			return nil, nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "malformed scroll cursor",
				engramerr.Field("offset", cursor.Offset))
		}
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT rowid, memory_id, sector, namespace, vector_blob, payload, created_at FROM vectors WHERE rowid > ?`)
	args = append(args, after)
	if namespace != "" {
		qb.WriteString(` AND namespace = ?`)
		args = append(args, namespace)
	}
	qb.WriteString(` ORDER BY rowid LIMIT ?`)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scrolling vectors")
	}
	defer func() { _ = rows.Close() }()

	var (
		points  []*store.VectorPoint
		lastRow int64
	)
	for rows.Next() {
		var (
			rowid                           int64
			memoryID, sector, ns, payloadJS string
			blob                            []byte
			createdAt                       int64
		)
		if err := rows.Scan(&rowid, &memoryID, &sector, &ns, &blob, &payloadJS, &createdAt); err != nil {
			return nil, nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scanning scroll row")
		}
		lastRow = rowid

		vec, err := decodeVector(blob)
		if err != nil {
			v.logger.Warn("skipping vector with corrupt blob",
				slog.String("memory_id", memoryID), slog.String("sector", sector))
			continue
		}
		payload, err := types.ParsePayload(payloadJS)
		if err != nil {
			v.logger.Warn("skipping vector with corrupt payload",
				slog.String("memory_id", memoryID), slog.String("sector", sector))
			continue
		}

		points = append(points, &store.VectorPoint{
			MemoryID:  memoryID,
			Sector:    types.Sector(sector),
			Namespace: ns,
			Vector:    vec,
			Payload:   payload,
			CreatedAt: fromMillis(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "iterating scroll rows")
	}

	if lastRow == 0 {
		return points, nil, nil
	}
	return points, &store.ScrollCursor{Offset: strconv.FormatInt(lastRow, 10)}, nil
}

// Stats aggregates counts over the shared table.
func (v *VectorStore) Stats(ctx context.Context) (*store.VectorStats, error) {
	db, err := v.conn(ctx)
	if err != nil {
		return nil, err
	}

	stats := &store.VectorStats{BySector: make(map[types.Sector]int64)}

	rows, err := db.QueryContext(ctx, `SELECT sector, COUNT(*) FROM vectors GROUP BY sector`)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "counting vectors")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sector string
		var count int64
		if err := rows.Scan(&sector, &count); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "scanning sector count")
		}
		stats.BySector[types.Sector(sector)] = count
		stats.TotalVectors += count
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "iterating sector counts")
	}

	var last sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM vectors`).Scan(&last); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorDatabaseFailure, "reading last update")
	}
	if last.Valid {
		stats.LastUpdated = fromMillis(last.Int64)
	}
	return stats, nil
}

// HealthCheck reports database liveness without surfacing an error.
func (v *VectorStore) HealthCheck(ctx context.Context) bool {
	db, err := v.conn(ctx)
	if err != nil {
		return false
	}
	var one int
	return db.QueryRowContext(ctx, `SELECT 1`).Scan(&one) == nil
}

// Close releases the database connection. A later operation re-initializes.
func (v *VectorStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	return err
}
