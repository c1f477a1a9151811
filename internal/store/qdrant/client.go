// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/engramdb/engram/internal/store"
)

const (
	defaultTimeout = 15 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// errCollectionNotFound distinguishes a missing collection from other
// failures so read paths can treat it as "no data yet".
var errCollectionNotFound = errors.New("collection not found")

// Client is a minimal Qdrant REST client covering the operations the
// indexed backend needs. It speaks the collections and points APIs
// directly over net/http.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for the configured Qdrant endpoint.
func NewClient(cfg store.QdrantConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string // "ok" or "error"
	Error string // non-empty if error
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope struct {
	Status qdrantStatus    `json:"status"`
	Time   float64         `json:"time"`
	Result json.RawMessage `json:"result"`
}

// do issues one request and decodes the envelope, returning the raw result.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("bad qdrant url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		// Either header works; sending both covers deployments with either check.
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	var env qdrantEnvelope
	_ = json.Unmarshal(respBody, &env) // best-effort parse

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return env.Result, nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, errCollectionNotFound
	}
	if env.Status.Error != "" {
		return nil, errors.New(env.Status.Error)
	}
	return nil, fmt.Errorf("qdrant error: http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// CollectionExists checks for a collection without creating it.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name)+"/exists", nil)
	if err != nil {
		if errors.Is(err, errCollectionNotFound) {
			return false, nil
		}
		return false, err
	}
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decode exists response: %w", err)
	}
	return result.Exists, nil
}

// CreateCollection provisions a collection with cosine distance and an
// HNSW index. Creating a collection that already exists is a no-op.
func (c *Client) CreateCollection(ctx context.Context, name string, dims, hnswM, hnswEf int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]any{
			"m":            hnswM,
			"ef_construct": hnswEf,
		},
	}
	_, err := c.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

// CreateFieldIndex adds a keyword payload index used for filtered search.
func (c *Client) CreateFieldIndex(ctx context.Context, collection, field string) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": "keyword",
	}
	_, err := c.do(ctx, http.MethodPut,
		"/collections/"+url.PathEscape(collection)+"/index?wait=true", body)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

// ListCollections returns every collection name on the server.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode collections response: %w", err)
	}
	names := make([]string, 0, len(result.Collections))
	for _, col := range result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// Point is one stored point on the wire.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UpsertPoints writes points with wait=true so a successful response
// means the write is durable.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{"points": points}
	_, err := c.do(ctx, http.MethodPut,
		"/collections/"+url.PathEscape(collection)+"/points?wait=true", body)
	return err
}

// Filter is a Qdrant boolean filter; only must-clauses are needed here.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition matches a payload field against one value or any of a set.
type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

// Match carries either an exact value or an any-of list.
type Match struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

// MatchValue builds an equality condition.
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: Match{Value: value}}
}

// MatchAny builds an any-of condition.
func MatchAny(key string, values []any) Condition {
	return Condition{Key: key, Match: Match{Any: values}}
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchPoints runs a similarity search in one collection. A missing
// collection surfaces as errCollectionNotFound.
func (c *Client) SearchPoints(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64, filter *Filter, withVector bool) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
		"with_vector":     withVector,
	}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}

	raw, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points/search", body)
	if err != nil {
		return nil, err
	}
	var hits []ScoredPoint
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return hits, nil
}

// RetrievePoints fetches points by id, with vectors and payloads.
func (c *Client) RetrievePoints(ctx context.Context, collection string, ids []string) ([]Point, error) {
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	raw, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points", body)
	if err != nil {
		return nil, err
	}
	var points []Point
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("decode retrieve response: %w", err)
	}
	return points, nil
}

// ScrollPoints pages through a collection's points in id order. The
// returned offset resumes the scroll; empty means exhausted. A missing
// collection surfaces as errCollectionNotFound.
func (c *Client) ScrollPoints(ctx context.Context, collection string, limit int, offset string) ([]Point, string, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if offset != "" {
		body["offset"] = offset
	}

	raw, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points/scroll", body)
	if err != nil {
		return nil, "", err
	}
	var result struct {
		Points         []Point `json:"points"`
		NextPageOffset any     `json:"next_page_offset"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, "", fmt.Errorf("decode scroll response: %w", err)
	}
	next, _ := result.NextPageOffset.(string)
	return result.Points, next, nil
}

// DeletePoints removes points by id.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	body := map[string]any{"points": ids}
	_, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body)
	return err
}

// DeletePointsByFilter removes every point matching the filter.
func (c *Client) DeletePointsByFilter(ctx context.Context, collection string, filter *Filter) error {
	body := map[string]any{"filter": filter}
	_, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body)
	return err
}

// CountPoints returns an exact point count, optionally filtered.
func (c *Client) CountPoints(ctx context.Context, collection string, filter *Filter) (int64, error) {
	body := map[string]any{"exact": true}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}
	raw, err := c.do(ctx, http.MethodPost,
		"/collections/"+url.PathEscape(collection)+"/points/count", body)
	if err != nil {
		return 0, err
	}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return result.Count, nil
}
