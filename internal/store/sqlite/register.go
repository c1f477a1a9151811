// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"path/filepath"

	"github.com/engramdb/engram/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newVectorBackend)
}

func newVectorBackend(cfg *store.StorageConfig) (store.VectorStore, error) {
	return NewVectorStore(filepath.Join(cfg.DataDir, "vectors.db"), cfg.Dimensions(), nil), nil
}
