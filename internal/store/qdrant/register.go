// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package qdrant

import (
	"github.com/engramdb/engram/internal/store"
)

func init() {
	store.RegisterBackend("qdrant", newVectorBackend)
}

func newVectorBackend(cfg *store.StorageConfig) (store.VectorStore, error) {
	return NewVectorStore(cfg.Qdrant, cfg.Dimensions(), nil), nil
}
