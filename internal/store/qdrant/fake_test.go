// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package qdrant_test

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/engramdb/engram/internal/store/qdrant"
)

// fakeQdrant is an in-memory stand-in for a Qdrant deployment, covering
// exactly the REST surface the backend uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]qdrant.Point // collection -> point id -> point
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string]map[string]qdrant.Point)}
}

func (f *fakeQdrant) hasCollection(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok
}

func (f *fakeQdrant) pointCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[name])
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "time": 0.001, "result": result})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": msg}, "time": 0.001})
}

type fakeFilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value any   `json:"value"`
			Any   []any `json:"any"`
		} `json:"match"`
	} `json:"must"`
}

func (f fakeFilter) matches(p qdrant.Point) bool {
	for _, cond := range f.Must {
		got := p.Payload[cond.Key]
		if len(cond.Match.Any) > 0 {
			found := false
			for _, want := range cond.Match.Any {
				if got == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if got != cond.Match.Value {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 || parts[0] != "collections" {
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		names := make([]map[string]any, 0, len(f.collections))
		for name := range f.collections {
			names = append(names, map[string]any{"name": name})
		}
		writeOK(w, map[string]any{"collections": names})

	case len(parts) == 2 && r.Method == http.MethodPut:
		name := parts[1]
		if _, ok := f.collections[name]; ok {
			writeError(w, http.StatusConflict, "collection `"+name+"` already exists")
			return
		}
		f.collections[name] = make(map[string]qdrant.Point)
		writeOK(w, true)

	case len(parts) == 3 && parts[2] == "exists" && r.Method == http.MethodGet:
		_, ok := f.collections[parts[1]]
		writeOK(w, map[string]any{"exists": ok})

	case len(parts) == 3 && parts[2] == "index" && r.Method == http.MethodPut:
		if _, ok := f.collections[parts[1]]; !ok {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		writeOK(w, true)

	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
		f.handleUpsert(w, r, parts[1])

	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPost:
		f.handleRetrieve(w, r, parts[1])

	case len(parts) == 4 && parts[2] == "points" && parts[3] == "search" && r.Method == http.MethodPost:
		f.handleSearch(w, r, parts[1])

	case len(parts) == 4 && parts[2] == "points" && parts[3] == "scroll" && r.Method == http.MethodPost:
		f.handleScroll(w, r, parts[1])

	case len(parts) == 4 && parts[2] == "points" && parts[3] == "delete" && r.Method == http.MethodPost:
		f.handleDelete(w, r, parts[1])

	case len(parts) == 4 && parts[2] == "points" && parts[3] == "count" && r.Method == http.MethodPost:
		f.handleCount(w, r, parts[1])

	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (f *fakeQdrant) handleUpsert(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		Points []qdrant.Point `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, p := range body.Points {
		points[p.ID] = p
	}
	writeOK(w, map[string]any{"operation_id": 1, "status": "completed"})
}

func (f *fakeQdrant) handleRetrieve(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found := make([]qdrant.Point, 0)
	for _, id := range body.IDs {
		if p, ok := points[id]; ok {
			found = append(found, p)
		}
	}
	writeOK(w, found)
}

func (f *fakeQdrant) handleSearch(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		Vector         []float32  `json:"vector"`
		Limit          int        `json:"limit"`
		ScoreThreshold float64    `json:"score_threshold"`
		Filter         fakeFilter `json:"filter"`
		WithVector     bool       `json:"with_vector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits := make([]qdrant.ScoredPoint, 0)
	for _, p := range points {
		if !body.Filter.matches(p) {
			continue
		}
		score := cosine(body.Vector, p.Vector)
		if score < body.ScoreThreshold {
			continue
		}
		hit := qdrant.ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload}
		if body.WithVector {
			hit.Vector = p.Vector
		}
		hits = append(hits, hit)
	}
	sortHits(hits)
	if body.Limit > 0 && len(hits) > body.Limit {
		hits = hits[:body.Limit]
	}
	writeOK(w, hits)
}

func (f *fakeQdrant) handleScroll(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		Limit  int    `json:"limit"`
		Offset string `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]string, 0, len(points))
	for id := range points {
		if id > body.Offset {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if body.Limit > 0 && len(ids) > body.Limit {
		next = ids[body.Limit-1]
		ids = ids[:body.Limit]
	}
	page := make([]qdrant.Point, 0, len(ids))
	for _, id := range ids {
		page = append(page, points[id])
	}
	writeOK(w, map[string]any{"points": page, "next_page_offset": next})
}

func (f *fakeQdrant) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		Points []string   `json:"points"`
		Filter fakeFilter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Points) > 0 {
		for _, id := range body.Points {
			delete(points, id)
		}
	} else {
		for id, p := range points {
			if body.Filter.matches(p) {
				delete(points, id)
			}
		}
	}
	writeOK(w, map[string]any{"operation_id": 1, "status": "completed"})
}

func (f *fakeQdrant) handleCount(w http.ResponseWriter, r *http.Request, name string) {
	points, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	var body struct {
		Filter fakeFilter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count := 0
	for _, p := range points {
		if body.Filter.matches(p) {
			count++
		}
	}
	writeOK(w, map[string]any{"count": count})
}
