// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

// Compile-time interface check.
var _ store.WaypointStore = (*WaypointStore)(nil)

// WaypointStore persists root→child document edges in SQLite. Each Link
// commits in its own transaction so ingestion's already-linked sections
// stay durable when a later section fails.
type WaypointStore struct {
	db *sql.DB
}

const waypointDDL = `
CREATE TABLE IF NOT EXISTS waypoints (
	id         TEXT PRIMARY KEY,
	root_id    TEXT NOT NULL,
	child_id   TEXT NOT NULL,
	namespaces TEXT NOT NULL DEFAULT '[]',
	weight     REAL NOT NULL DEFAULT 1.0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(root_id, child_id)
);

CREATE INDEX IF NOT EXISTS idx_waypoints_root ON waypoints(root_id);
`

// NewWaypointStore opens (or creates) a SQLite database at dbPath and
// initialises the waypoints table.
func NewWaypointStore(dbPath string) (*WaypointStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "opening waypoint db")
	}

	ws, err := NewWaypointStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ws, nil
}

// NewWaypointStoreWithDB wraps an existing connection; Close then closes
// the shared connection, so the owner decides who calls it.
func NewWaypointStoreWithDB(db *sql.DB) (*WaypointStore, error) {
	if _, err := db.Exec(waypointDDL); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "migrating waypoint table")
	}
	return &WaypointStore{db: db}, nil
}

// Link creates or refreshes the edge from root to child with weight 1.0.
func (w *WaypointStore) Link(ctx context.Context, rootID, childID string, namespaces []string) (*store.Waypoint, error) {
	if rootID == "" || childID == "" {
		return nil, engramerr.New(engramerr.CodeStoreTemporalInvalidInput, "root and child ids are required")
	}

	nsJSON, err := json.Marshal(namespaces)
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "marshalling namespaces")
	}

	now := time.Now()
	wp := &store.Waypoint{
		ID:         uuid.NewString(),
		RootID:     rootID,
		ChildID:    childID,
		Namespaces: namespaces,
		Weight:     1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	const q = `INSERT INTO waypoints (id, root_id, child_id, namespaces, weight, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(root_id, child_id) DO UPDATE SET
	namespaces = excluded.namespaces,
	updated_at = excluded.updated_at`

	if _, err := w.db.ExecContext(ctx, q,
		wp.ID, rootID, childID, string(nsJSON), wp.Weight, toMillis(now), toMillis(now)); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreWaypointDatabaseFailure, "linking waypoint",
			engramerr.Field("root_id", rootID), engramerr.Field("child_id", childID))
	}
	return wp, nil
}

// Children returns a root's waypoints in creation order.
func (w *WaypointStore) Children(ctx context.Context, rootID string) ([]*store.Waypoint, error) {
	const q = `SELECT id, root_id, child_id, namespaces, weight, created_at, updated_at
FROM waypoints WHERE root_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := w.db.QueryContext(ctx, q, rootID)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeStoreWaypointDatabaseFailure, "listing waypoints",
			engramerr.Field("root_id", rootID))
	}
	defer func() { _ = rows.Close() }()

	var out []*store.Waypoint
	for rows.Next() {
		var (
			wp                 store.Waypoint
			nsJSON             string
			created, updatedAt int64
		)
		if err := rows.Scan(&wp.ID, &wp.RootID, &wp.ChildID, &nsJSON, &wp.Weight, &created, &updatedAt); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "scanning waypoint")
		}
		if err := json.Unmarshal([]byte(nsJSON), &wp.Namespaces); err != nil {
			return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "unmarshalling namespaces")
		}
		wp.CreatedAt = fromMillis(created)
		wp.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &wp)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeStoreWaypointDatabaseFailure, "iterating waypoints")
	}
	return out, nil
}

// Unlink removes one edge; removing a missing edge is a no-op.
func (w *WaypointStore) Unlink(ctx context.Context, rootID, childID string) error {
	_, err := w.db.ExecContext(ctx,
		`DELETE FROM waypoints WHERE root_id = ? AND child_id = ?`, rootID, childID)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeStoreWaypointDatabaseFailure, "unlinking waypoint",
			engramerr.Field("root_id", rootID), engramerr.Field("child_id", childID))
	}
	return nil
}

// Close closes the underlying database connection.
func (w *WaypointStore) Close() error {
	return w.db.Close()
}
