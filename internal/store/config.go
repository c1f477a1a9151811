// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import "time"

// defaultVectorDimensions is the default embedding dimension (matches
// OpenAI text-embedding-ada-002).
const defaultVectorDimensions = 1536

// StorageConfig controls which vector backend the factory builds and how
// the backends connect to their storage.
type StorageConfig struct {
	// Backend names the vector backend: "sqlite" (relational fallback) or
	// "qdrant" (indexed). Empty or unrecognized values fall back to sqlite.
	Backend string

	// DataDir holds the SQLite database files.
	DataDir string

	// VectorDimensions is the fixed embedding dimension; 0 uses the
	// default (1536).
	VectorDimensions int

	Qdrant QdrantConfig
}

// QdrantConfig connects the indexed backend to a Qdrant deployment.
type QdrantConfig struct {
	// URL is the REST endpoint, e.g. "http://localhost:6333".
	URL string

	// APIKey is optional; sent as both api-key and bearer headers.
	APIKey string

	// CollectionPrefix namespaces this deployment's collections. Every
	// collection is named <prefix>_<sanitized-namespace>.
	CollectionPrefix string

	// HNSWM is the ANN graph's neighbor count (Qdrant default 16).
	HNSWM int

	// HNSWEfConstruct is the ANN index construction quality (Qdrant
	// default 100).
	HNSWEfConstruct int

	// Timeout bounds each HTTP request; 0 uses 15s.
	Timeout time.Duration
}

// Dimensions returns the effective embedding dimension.
func (c *StorageConfig) Dimensions() int {
	if c.VectorDimensions > 0 {
		return c.VectorDimensions
	}
	return defaultVectorDimensions
}
