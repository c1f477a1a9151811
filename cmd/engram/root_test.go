// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
	"github.com/engramdb/engram/pkg/types"
)

// writeTestConfig creates a config file over a temp data directory with
// small test vectors, returning both paths.
func writeTestConfig(t *testing.T) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfgPath = filepath.Join(dir, "engram.yaml")
	content := fmt.Sprintf("storage:\n  backend: sqlite\n  data_dir: %s\n  vector_dimensions: 4\n", dataDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dataDir
}

// seedVectors writes points directly into the sqlite backend the CLI
// will read.
func seedVectors(t *testing.T, dataDir string, points ...*store.VectorPoint) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dataDir, 0o700))
	vs := sqlite.NewVectorStore(filepath.Join(dataDir, "vectors.db"), 4, nil)
	require.NoError(t, vs.Initialize(context.Background()))
	for _, p := range points {
		require.NoError(t, vs.Upsert(context.Background(), p))
	}
	require.NoError(t, vs.Close())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer)) // keep log output away from stdout assertions
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "engram")
	assert.Contains(t, out, "stats")
	assert.Contains(t, out, "decay")
	assert.Contains(t, out, "migrate")
	assert.Contains(t, out, "doctor")
	assert.Contains(t, out, "version")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "engram")
}

func TestStatsCommand_Text(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	seedVectors(t, dataDir,
		&store.VectorPoint{MemoryID: "mem-1", Sector: types.SectorSemantic, Namespace: "alice", Vector: []float32{1, 0, 0, 0}},
		&store.VectorPoint{MemoryID: "mem-2", Sector: types.SectorEpisodic, Namespace: "alice", Vector: []float32{0, 1, 0, 0}},
	)

	out, err := execute(t, "stats", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "Total vectors:   2")
	assert.Contains(t, out, "semantic")
	assert.Contains(t, out, "episodic")
}

func TestStatsCommand_JSON(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	seedVectors(t, dataDir,
		&store.VectorPoint{MemoryID: "mem-1", Sector: types.SectorSemantic, Namespace: "alice", Vector: []float32{1, 0, 0, 0}},
	)

	out, err := execute(t, "stats", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var got statsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "sqlite", got.Backend)
	assert.Equal(t, int64(1), got.TotalVectors)
	assert.Equal(t, int64(1), got.BySector["semantic"])
}

func TestStatsCommand_YAML(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "stats", "--config", cfgPath, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: sqlite")
	assert.Contains(t, out, "total_vectors: 0")
}

func TestStatsCommand_UnknownFormat(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execute(t, "stats", "--config", cfgPath, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestDecayCommand_OneShot(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "decay", "--config", cfgPath, "--rate", "0.05")
	require.NoError(t, err)
	assert.Contains(t, out, "0 fact(s) affected")
}

func TestDecayCommand_InvalidRate(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execute(t, "decay", "--config", cfgPath, "--rate", "1.5", "--schedule", "@daily")
	require.Error(t, err)
}

func TestMigrateCommand_RejectsBadBackends(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execute(t, "migrate", "--config", cfgPath, "--to", "cassandra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	_, err = execute(t, "migrate", "--config", cfgPath, "--from", "sqlite", "--to", "sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identical")
}

func TestDoctorCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "doctor", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Binary:")
	assert.Contains(t, out, "Platform:")
	assert.Contains(t, out, "loaded from "+cfgPath)
	assert.Contains(t, out, "writable")
	assert.Contains(t, out, "sqlite healthy")
	assert.Contains(t, out, "available")
}
