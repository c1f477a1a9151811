// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import "context"

// WaypointStore persists the root→child edges produced by root-child
// ingestion. Each Link runs in its own transaction so every committed
// section is immediately durable and queryable.
type WaypointStore interface {
	// Link creates (or refreshes) the edge from a root memory to one of
	// its section memories. Both endpoints must already exist.
	Link(ctx context.Context, rootID, childID string, namespaces []string) (*Waypoint, error)

	// Children returns a root's waypoints in creation order.
	Children(ctx context.Context, rootID string) ([]*Waypoint, error)

	// Unlink removes a single edge. Removing a nonexistent edge is a no-op.
	Unlink(ctx context.Context, rootID, childID string) error

	Close() error
}
