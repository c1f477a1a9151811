// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package store

import (
	"context"
	"log/slog"
	"sync"

	engramerr "github.com/engramdb/engram/pkg/errors"
)

// DefaultBackend is used when the configured backend name is empty or
// unrecognized.
const DefaultBackend = "sqlite"

// VectorBackendFactory constructs an uninitialized vector backend from
// storage configuration.
type VectorBackendFactory func(cfg *StorageConfig) (VectorStore, error)

var (
	backendFactories = map[string]VectorBackendFactory{}
	factoriesMu      sync.RWMutex
)

// RegisterBackend registers a factory function for a named vector backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f VectorBackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	backendFactories[name] = f
}

// Factory owns the process's shared VectorStore instance. It is constructed
// once at startup and passed by reference; there is no ambient global
// instance. Create builds additional, independently configured instances
// for tooling such as backend migration.
type Factory struct {
	cfg    *StorageConfig
	logger *slog.Logger

	mu       sync.Mutex
	instance VectorStore
}

// NewFactory creates a factory over the given storage configuration.
func NewFactory(cfg *StorageConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Get returns the shared instance, constructing and initializing it on
// first use.
func (f *Factory) Get(ctx context.Context) (VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.instance != nil {
		return f.instance, nil
	}

	vs, err := f.build(ctx, f.cfg.Backend)
	if err != nil {
		return nil, err
	}
	f.instance = vs
	return vs, nil
}

// Create builds a new, independent instance of the named backend,
// bypassing the shared one. Callers own the returned store and must close
// it. An empty name uses the configured backend.
func (f *Factory) Create(ctx context.Context, backend string) (VectorStore, error) {
	if backend == "" {
		backend = f.cfg.Backend
	}
	return f.build(ctx, backend)
}

// Reset closes and discards the shared instance so the next Get constructs
// a fresh one. Intended for test isolation.
func (f *Factory) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.instance == nil {
		return nil
	}
	err := f.instance.Close()
	f.instance = nil
	return err
}

func (f *Factory) build(ctx context.Context, backend string) (VectorStore, error) {
	name := f.resolve(backend)

	factoriesMu.RLock()
	factory, ok := backendFactories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, engramerr.New(engramerr.CodeStoreBackendUnsupported,
			"no registered vector backend", engramerr.Field("backend", name))
	}

	vs, err := factory(f.cfg)
	if err != nil {
		return nil, err
	}
	if err := vs.Initialize(ctx); err != nil {
		_ = vs.Close()
		return nil, err
	}
	return vs, nil
}

// resolve maps a configured backend name to a registered one, falling back
// to the relational backend when the name is empty or unknown.
func (f *Factory) resolve(backend string) string {
	if backend == "" {
		return DefaultBackend
	}

	factoriesMu.RLock()
	_, known := backendFactories[backend]
	factoriesMu.RUnlock()

	if !known {
		f.logger.Warn("unrecognized vector backend, falling back",
			slog.String("backend", backend),
			slog.String("fallback", DefaultBackend))
		return DefaultBackend
	}
	return backend
}
