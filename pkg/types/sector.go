// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package types

// Sector classifies the nature of a stored memory. Every vector is keyed
// by (memory ID, sector), so a single memory may hold up to one vector
// per sector.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorEmotional  Sector = "emotional"
	SectorReflective Sector = "reflective"
)

// AllSectors lists every valid sector in a stable order.
var AllSectors = []Sector{
	SectorEpisodic,
	SectorSemantic,
	SectorProcedural,
	SectorEmotional,
	SectorReflective,
}

// Valid reports whether s is one of the five known sectors.
func (s Sector) Valid() bool {
	switch s {
	case SectorEpisodic, SectorSemantic, SectorProcedural, SectorEmotional, SectorReflective:
		return true
	}
	return false
}

func (s Sector) String() string { return string(s) }

// PointID composes the vector point identifier for a (memory, sector) pair.
// The same format is used by every backend so vectors can be migrated
// between them without rewriting identifiers.
func PointID(memoryID string, sector Sector) string {
	return memoryID + "-" + string(sector)
}
