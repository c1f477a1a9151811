// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/config"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.Equal(t, 1536, cfg.Storage.VectorDimensions)
	assert.Equal(t, "http://localhost:6333", cfg.Storage.Qdrant.URL)
	assert.Equal(t, "engram", cfg.Storage.Qdrant.CollectionPrefix)
	assert.False(t, cfg.Maintenance.DecayEnabled)
	assert.Equal(t, "@daily", cfg.Maintenance.DecaySchedule)
	assert.Equal(t, 0.01, cfg.Maintenance.DecayRate)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	content := `
storage:
  backend: qdrant
  data_dir: /var/lib/engram
  vector_dimensions: 768
  qdrant:
    url: https://qdrant.internal:6333
    api_key: secret
    timeout_seconds: 30
maintenance:
  decay_enabled: true
  decay_rate: 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant", cfg.Storage.Backend)
	assert.Equal(t, 768, cfg.Storage.VectorDimensions)
	assert.Equal(t, "https://qdrant.internal:6333", cfg.Storage.Qdrant.URL)
	assert.True(t, cfg.Maintenance.DecayEnabled)

	// Unset nested values still take defaults.
	assert.Equal(t, 16, cfg.Storage.Qdrant.HNSWM)

	sc := cfg.StoreConfig()
	assert.Equal(t, "qdrant", sc.Backend)
	assert.Equal(t, "secret", sc.Qdrant.APIKey)
	assert.Equal(t, 30*time.Second, sc.Qdrant.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, engramerr.HasCode(err, engramerr.CodeConfigLoadReadFailure))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "unknown backend",
			content: "storage:\n  backend: cassandra\n",
			wantMsg: "storage.backend",
		},
		{
			name:    "zero dimensions",
			content: "storage:\n  vector_dimensions: 0\n",
			wantMsg: "vector_dimensions",
		},
		{
			name:    "decay rate out of range",
			content: "maintenance:\n  decay_rate: 1.5\n",
			wantMsg: "decay_rate",
		},
		{
			name:    "qdrant backend without valid url",
			content: "storage:\n  backend: qdrant\n  qdrant:\n    url: \"not a url\"\n",
			wantMsg: "qdrant.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "engram.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := config.Load(path)
			require.Error(t, err)
			assert.True(t, engramerr.HasCode(err, engramerr.CodeConfigValidateInvalidValue))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBootstrapDefaultConfigParses(t *testing.T) {
	// The embedded default must always load cleanly.
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, config.DefaultConfigYAML, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}
