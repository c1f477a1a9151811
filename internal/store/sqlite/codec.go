// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// encodeVector serializes an embedding into the little-endian float32 blob
// format used by sqlite-vec, so the vector_blob column stays readable by
// sqlite-vec tooling.
func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}

// decodeVector is the inverse of encodeVector.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// cosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1], or 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
