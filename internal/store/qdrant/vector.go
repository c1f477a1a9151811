// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package qdrant implements the indexed vector backend on top of a
// Qdrant deployment. Namespaces map to physical collections named
// <prefix>_<sanitized-namespace>, so isolation is structural rather
// than filtered.
package qdrant

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

const (
	defaultCollectionPrefix = "engram"
	defaultHNSWM            = 16
	defaultHNSWEfConstruct  = 100
)

// Reserved payload keys; user payload fields with these names are
// dropped on write rather than allowed to corrupt point routing.
const (
	payloadKeyMemoryID  = "memory_id"
	payloadKeySector    = "sector"
	payloadKeyNamespace = "user_id"
	payloadKeyDimension = "dimension"
	payloadKeyCreatedAt = "created_at"
)

// collectionChars matches everything that may not appear in a
// collection name; offending runes are replaced with underscores.
var collectionChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// VectorStore is the Qdrant-backed store.VectorStore. Reads degrade to
// empty results when the deployment is unreachable; writes propagate
// failures so callers never lose data silently.
type VectorStore struct {
	client *Client
	prefix string
	dims   int
	hnswM  int
	hnswEf int
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool // collections confirmed to exist and be indexed
}

// NewVectorStore builds the indexed backend from configuration. The
// deployment is not contacted until Initialize or the first operation.
func NewVectorStore(cfg store.QdrantConfig, dims int, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = defaultCollectionPrefix
	}
	hnswM := cfg.HNSWM
	if hnswM <= 0 {
		hnswM = defaultHNSWM
	}
	hnswEf := cfg.HNSWEfConstruct
	if hnswEf <= 0 {
		hnswEf = defaultHNSWEfConstruct
	}
	return &VectorStore{
		client: NewClient(cfg),
		prefix: prefix,
		dims:   dims,
		hnswM:  hnswM,
		hnswEf: hnswEf,
		logger: logger.With("component", "qdrant_store"),
		known:  make(map[string]bool),
	}
}

// Initialize verifies the deployment is reachable and warms the
// collection cache. Collections themselves are created lazily on first
// write into a namespace.
func (v *VectorStore) Initialize(ctx context.Context) error {
	names, err := v.client.ListCollections(ctx)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorUpstreamFailure, "connecting to qdrant")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.known = make(map[string]bool, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, v.prefix+"_") {
			v.known[name] = true
		}
	}
	return nil
}

// collectionFor maps a namespace to its physical collection. The empty
// namespace maps to the "default" partition.
func (v *VectorStore) collectionFor(namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	return v.prefix + "_" + collectionChars.ReplaceAllString(namespace, "_")
}

// ensureCollection creates and indexes the namespace's collection if it
// does not exist yet. The collection is cached as known only after its
// payload indexes are in place, so a crash mid-setup retries fully.
func (v *VectorStore) ensureCollection(ctx context.Context, namespace string) (string, error) {
	name := v.collectionFor(namespace)

	v.mu.Lock()
	if v.known[name] {
		v.mu.Unlock()
		return name, nil
	}
	v.mu.Unlock()

	exists, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return "", engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "checking collection",
			engramerr.FieldCollection(name))
	}
	if !exists {
		if err := v.client.CreateCollection(ctx, name, v.dims, v.hnswM, v.hnswEf); err != nil {
			return "", engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "creating collection",
				engramerr.FieldCollection(name))
		}
	}
	for _, field := range []string{payloadKeySector, payloadKeyMemoryID} {
		if err := v.client.CreateFieldIndex(ctx, name, field); err != nil {
			return "", engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "indexing payload field",
				engramerr.FieldCollection(name), engramerr.Field("field", field))
		}
	}

	v.mu.Lock()
	v.known[name] = true
	v.mu.Unlock()
	return name, nil
}

// collectionsFor resolves the read scope: one collection for a concrete
// namespace, every prefixed collection when the namespace is empty.
func (v *VectorStore) collectionsFor(ctx context.Context, namespace string) ([]string, error) {
	if namespace != "" {
		return []string{v.collectionFor(namespace)}, nil
	}
	names, err := v.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, v.prefix+"_") {
			out = append(out, name)
		}
	}
	return out, nil
}

// toPoint converts a VectorPoint into its wire representation. User
// payload fields share the flat payload map with the reserved routing
// keys, which always win.
func (v *VectorStore) toPoint(p *store.VectorPoint) Point {
	payload := make(map[string]any, len(p.Payload)+5)
	for k, val := range p.Payload {
		switch k {
		case payloadKeyMemoryID, payloadKeySector, payloadKeyNamespace,
			payloadKeyDimension, payloadKeyCreatedAt:
			continue
		}
		payload[k] = val
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload[payloadKeyMemoryID] = p.MemoryID
	payload[payloadKeySector] = string(p.Sector)
	payload[payloadKeyNamespace] = p.Namespace
	payload[payloadKeyDimension] = len(p.Vector)
	payload[payloadKeyCreatedAt] = createdAt.UTC().UnixMilli()

	return Point{ID: p.ID(), Vector: p.Vector, Payload: payload}
}

// splitPayload separates the reserved routing keys from user payload.
func splitPayload(raw map[string]any) (memoryID string, sector types.Sector, namespace string, payload types.Payload) {
	payload = make(types.Payload, len(raw))
	for k, val := range raw {
		switch k {
		case payloadKeyMemoryID:
			memoryID, _ = val.(string)
		case payloadKeySector:
			s, _ := val.(string)
			sector = types.Sector(s)
		case payloadKeyNamespace:
			namespace, _ = val.(string)
		case payloadKeyDimension, payloadKeyCreatedAt:
			// internal bookkeeping, not part of the user payload
		default:
			payload[k] = val
		}
	}
	return memoryID, sector, namespace, payload
}

func (v *VectorStore) validatePoint(p *store.VectorPoint) error {
	if p == nil {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "point is required")
	}
	if p.MemoryID == "" {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "memory id is required")
	}
	if !p.Sector.Valid() {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "unknown sector",
			engramerr.FieldSector(string(p.Sector)))
	}
	if len(p.Vector) != v.dims {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "vector dimension mismatch",
			engramerr.Field("want", v.dims), engramerr.Field("got", len(p.Vector)))
	}
	if err := p.Payload.Validate(); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorInvalidInput, "invalid payload")
	}
	return nil
}

// Upsert writes one point into its namespace's collection, creating the
// collection on first use.
func (v *VectorStore) Upsert(ctx context.Context, point *store.VectorPoint) error {
	if err := v.validatePoint(point); err != nil {
		return err
	}
	collection, err := v.ensureCollection(ctx, point.Namespace)
	if err != nil {
		return err
	}
	if err := v.client.UpsertPoints(ctx, collection, []Point{v.toPoint(point)}); err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "upserting point",
			engramerr.FieldMemoryID(point.MemoryID),
			engramerr.FieldCollection(collection))
	}
	return nil
}

// BatchUpsert groups points by namespace and writes each group in
// chunks of store.BatchSize. On failure the count of points already
// written is returned alongside the error.
func (v *VectorStore) BatchUpsert(ctx context.Context, points []*store.VectorPoint) (int, error) {
	for _, p := range points {
		if err := v.validatePoint(p); err != nil {
			return 0, err
		}
	}

	// Group by namespace, preserving first-seen order so writes stay
	// deterministic.
	var order []string
	groups := make(map[string][]*store.VectorPoint)
	for _, p := range points {
		if _, ok := groups[p.Namespace]; !ok {
			order = append(order, p.Namespace)
		}
		groups[p.Namespace] = append(groups[p.Namespace], p)
	}

	written := 0
	for _, ns := range order {
		collection, err := v.ensureCollection(ctx, ns)
		if err != nil {
			return written, err
		}
		group := groups[ns]
		for start := 0; start < len(group); start += store.BatchSize {
			end := min(start+store.BatchSize, len(group))
			chunk := make([]Point, 0, end-start)
			for _, p := range group[start:end] {
				chunk = append(chunk, v.toPoint(p))
			}
			if err := v.client.UpsertPoints(ctx, collection, chunk); err != nil {
				return written, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "upserting batch",
					engramerr.FieldCollection(collection),
					engramerr.Field("batch_start", start))
			}
			written += end - start
		}
	}
	return written, nil
}

// Search runs an ANN query against the namespace's collection, or fans
// out across every partition when the request has no namespace. An
// unreachable deployment or missing partition yields empty results.
func (v *VectorStore) Search(ctx context.Context, req *store.SearchRequest) ([]*store.SearchResult, error) {
	if req == nil || len(req.Vector) == 0 {
		return nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "query vector is required")
	}
	if len(req.Vector) != v.dims {
		return nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "query vector dimension mismatch",
			engramerr.Field("want", v.dims), engramerr.Field("got", len(req.Vector)))
	}
	if err := req.ValidateFilters(); err != nil {
		return nil, err
	}

	collections, err := v.collectionsFor(ctx, req.Namespace)
	if err != nil {
		v.logger.Warn("search degraded to empty results", "error", err)
		return []*store.SearchResult{}, nil
	}

	filter := &Filter{}
	if req.Sector != "" {
		filter.Must = append(filter.Must, MatchValue(payloadKeySector, string(req.Sector)))
	}
	for k, val := range req.Filters {
		filter.Must = append(filter.Must, MatchValue(k, val))
	}

	limit := req.EffectiveLimit()
	threshold := req.EffectiveThreshold()

	var results []*store.SearchResult
	for _, collection := range collections {
		hits, err := v.client.SearchPoints(ctx, collection, req.Vector, limit, threshold, filter, req.WithVectors)
		if err != nil {
			if errors.Is(err, errCollectionNotFound) {
				continue
			}
			v.logger.Warn("search degraded to empty results",
				"collection", collection, "error", err)
			return []*store.SearchResult{}, nil
		}
		for _, hit := range hits {
			memoryID, sector, _, payload := splitPayload(hit.Payload)
			results = append(results, &store.SearchResult{
				ID:       hit.ID,
				MemoryID: memoryID,
				Sector:   sector,
				Score:    hit.Score,
				Vector:   hit.Vector,
				Payload:  payload,
			})
		}
	}

	// Per-collection result sets are individually ordered; the fan-out
	// merge needs a final sort and truncation.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*store.SearchResult{}
	}
	return results, nil
}

// Scroll pages through points partition by partition, in qdrant id
// order within each one. The cursor records the partition being drained
// and qdrant's next-page offset inside it. Unlike query reads, scroll
// failures propagate so exports are never silently truncated.
func (v *VectorStore) Scroll(ctx context.Context, namespace string, cursor *store.ScrollCursor, limit int) ([]*store.VectorPoint, *store.ScrollCursor, error) {
	if limit <= 0 {
		limit = store.BatchSize
	}

	collections, err := v.collectionsFor(ctx, namespace)
	if err != nil {
		return nil, nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorUpstreamFailure, "listing collections for scroll")
	}
	sort.Strings(collections)

	// Resume inside the partition the cursor points at. A partition that
	// vanished since the last page restarts from the front of the list.
	idx, offset := 0, ""
	if cursor != nil {
		for i, c := range collections {
			if c == cursor.Partition {
				idx, offset = i, cursor.Offset
				break
			}
		}
	}

	for ; idx < len(collections); idx++ {
		collection := collections[idx]
		raw, next, err := v.client.ScrollPoints(ctx, collection, limit, offset)
		offset = ""
		if err != nil {
			if errors.Is(err, errCollectionNotFound) {
				continue
			}
			return nil, nil, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "scrolling points",
				engramerr.FieldCollection(collection))
		}
		if len(raw) == 0 && next == "" {
			continue
		}

		points := make([]*store.VectorPoint, 0, len(raw))
		for _, p := range raw {
			memoryID, sector, ns, payload := splitPayload(p.Payload)
			points = append(points, &store.VectorPoint{
				MemoryID:  memoryID,
				Sector:    sector,
				Namespace: ns,
				Vector:    p.Vector,
				Payload:   payload,
				CreatedAt: createdAtFrom(p.Payload),
			})
		}

		if next != "" {
			return points, &store.ScrollCursor{Partition: collection, Offset: next}, nil
		}
		if idx+1 < len(collections) {
			return points, &store.ScrollCursor{Partition: collections[idx+1]}, nil
		}
		return points, nil, nil
	}
	return nil, nil, nil
}

// createdAtFrom reads the reserved created_at payload key, tolerating the
// float64 that JSON decoding produces.
func createdAtFrom(raw map[string]any) time.Time {
	switch ms := raw[payloadKeyCreatedAt].(type) {
	case float64:
		return time.UnixMilli(int64(ms))
	case int64:
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// GetVector retrieves one point's embedding, or nil when absent. With a
// namespace the point's stored ownership is verified as well, so an id
// collision across partitions cannot leak a vector.
func (v *VectorStore) GetVector(ctx context.Context, memoryID string, sector types.Sector, namespace string) ([]float32, error) {
	if memoryID == "" || !sector.Valid() {
		return nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "memory id and sector are required")
	}

	collections, err := v.collectionsFor(ctx, namespace)
	if err != nil {
		v.logger.Warn("get vector degraded to not-found", "error", err)
		return nil, nil
	}

	id := types.PointID(memoryID, sector)
	for _, collection := range collections {
		points, err := v.client.RetrievePoints(ctx, collection, []string{id})
		if err != nil {
			if errors.Is(err, errCollectionNotFound) {
				continue
			}
			v.logger.Warn("get vector degraded to not-found",
				"collection", collection, "error", err)
			return nil, nil
		}
		for _, p := range points {
			_, _, owner, _ := splitPayload(p.Payload)
			if namespace != "" && owner != namespace {
				continue
			}
			return p.Vector, nil
		}
	}
	return nil, nil
}

// GetVectorsBySector retrieves every per-sector embedding for one
// memory id in a single round trip per collection.
func (v *VectorStore) GetVectorsBySector(ctx context.Context, memoryID string, namespace string) (map[types.Sector][]float32, error) {
	if memoryID == "" {
		return nil, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "memory id is required")
	}

	collections, err := v.collectionsFor(ctx, namespace)
	if err != nil {
		v.logger.Warn("get vectors degraded to empty", "error", err)
		return map[types.Sector][]float32{}, nil
	}

	ids := make([]string, 0, len(types.AllSectors))
	for _, sector := range types.AllSectors {
		ids = append(ids, types.PointID(memoryID, sector))
	}

	out := make(map[types.Sector][]float32)
	for _, collection := range collections {
		points, err := v.client.RetrievePoints(ctx, collection, ids)
		if err != nil {
			if errors.Is(err, errCollectionNotFound) {
				continue
			}
			v.logger.Warn("get vectors degraded to empty",
				"collection", collection, "error", err)
			return map[types.Sector][]float32{}, nil
		}
		for _, p := range points {
			_, sector, owner, _ := splitPayload(p.Payload)
			if namespace != "" && owner != namespace {
				continue
			}
			if sector.Valid() {
				out[sector] = p.Vector
			}
		}
	}
	return out, nil
}

// Delete removes one sector's point, or all of the memory's points when
// sector is empty. Deleting from a partition that does not exist is a
// no-op.
func (v *VectorStore) Delete(ctx context.Context, memoryID string, sector types.Sector, namespace string) error {
	if memoryID == "" {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "memory id is required")
	}
	if sector != "" && !sector.Valid() {
		return engramerr.New(engramerr.CodeStoreVectorInvalidInput, "unknown sector",
			engramerr.FieldSector(string(sector)))
	}

	collections, err := v.collectionsFor(ctx, namespace)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeStoreVectorUpstreamFailure, "resolving collections")
	}

	for _, collection := range collections {
		var err error
		if sector != "" {
			err = v.client.DeletePoints(ctx, collection, []string{types.PointID(memoryID, sector)})
		} else {
			err = v.client.DeletePointsByFilter(ctx, collection,
				&Filter{Must: []Condition{MatchValue(payloadKeyMemoryID, memoryID)}})
		}
		if err != nil && !errors.Is(err, errCollectionNotFound) {
			return engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "deleting points",
				engramerr.FieldMemoryID(memoryID),
				engramerr.FieldCollection(collection))
		}
	}
	return nil
}

// BatchDelete bulk-deletes and returns a best-effort count: exact for
// sector-scoped deletes would require a round trip per id, so the count
// is taken from a filtered count query run just before each delete.
func (v *VectorStore) BatchDelete(ctx context.Context, memoryIDs []string, sector types.Sector, namespace string) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	if sector != "" && !sector.Valid() {
		return 0, engramerr.New(engramerr.CodeStoreVectorInvalidInput, "unknown sector",
			engramerr.FieldSector(string(sector)))
	}

	collections, err := v.collectionsFor(ctx, namespace)
	if err != nil {
		return 0, engramerr.Wrapf(err, engramerr.CodeStoreVectorUpstreamFailure, "resolving collections")
	}

	deleted := 0
	for _, collection := range collections {
		for start := 0; start < len(memoryIDs); start += store.BatchSize {
			end := min(start+store.BatchSize, len(memoryIDs))
			chunk := memoryIDs[start:end]

			anyOf := make([]any, 0, len(chunk))
			for _, id := range chunk {
				anyOf = append(anyOf, id)
			}
			filter := &Filter{Must: []Condition{MatchAny(payloadKeyMemoryID, anyOf)}}
			if sector != "" {
				filter.Must = append(filter.Must, MatchValue(payloadKeySector, string(sector)))
			}

			count, err := v.client.CountPoints(ctx, collection, filter)
			if err != nil {
				if errors.Is(err, errCollectionNotFound) {
					continue
				}
				return deleted, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "counting points",
					engramerr.FieldCollection(collection))
			}
			if count == 0 {
				continue
			}
			if err := v.client.DeletePointsByFilter(ctx, collection, filter); err != nil {
				return deleted, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "deleting batch",
					engramerr.FieldCollection(collection))
			}
			deleted += int(count)
		}
	}
	return deleted, nil
}

// Stats sums point counts across every partition owned by this
// deployment. LastUpdated reflects when the aggregate was computed.
func (v *VectorStore) Stats(ctx context.Context) (*store.VectorStats, error) {
	collections, err := v.collectionsFor(ctx, "")
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreVectorUpstreamFailure, "listing collections")
	}

	stats := &store.VectorStats{
		BySector:    make(map[types.Sector]int64),
		LastUpdated: time.Now(),
	}
	for _, collection := range collections {
		total, err := v.client.CountPoints(ctx, collection, nil)
		if err != nil {
			if errors.Is(err, errCollectionNotFound) {
				continue
			}
			return nil, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "counting collection",
				engramerr.FieldCollection(collection))
		}
		stats.TotalVectors += total

		for _, sector := range types.AllSectors {
			count, err := v.client.CountPoints(ctx, collection,
				&Filter{Must: []Condition{MatchValue(payloadKeySector, string(sector))}})
			if err != nil {
				return nil, engramerr.Wrap(err, engramerr.CodeStoreVectorUpstreamFailure, "counting sector",
					engramerr.FieldCollection(collection),
					engramerr.FieldSector(string(sector)))
			}
			if count > 0 {
				stats.BySector[sector] += count
			}
		}
	}
	return stats, nil
}

// HealthCheck reports whether the deployment answers a collections
// listing.
func (v *VectorStore) HealthCheck(ctx context.Context) bool {
	_, err := v.client.ListCollections(ctx)
	return err == nil
}

// Close drops the collection cache. The HTTP client is stateless, so
// the next operation re-verifies collections against the deployment.
func (v *VectorStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.known = make(map[string]bool)
	return nil
}
