// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package types

import (
	"encoding/json"
	"fmt"
)

// Payload is the structured key/value container attached to vector points,
// temporal facts, and edges. The value domain is deliberately limited so the
// serialization contract is identical across backends: string, bool, numbers
// (any Go numeric, normalized to float64 on a JSON round-trip), nested
// Payload/map[string]any, and slices of those.
type Payload map[string]any

// Validate checks every value against the allowed domain. It is called
// before any write so malformed payloads are rejected up front.
func (p Payload) Validate() error {
	for k, v := range p {
		if k == "" {
			return fmt.Errorf("payload contains empty key")
		}
		if err := validateValue(k, v); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, v any) error {
	switch val := v.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64:
		return nil
	case Payload:
		return val.Validate()
	case map[string]any:
		return Payload(val).Validate()
	case []any:
		for i, item := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", key, i), item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("payload key %q has unsupported type %T", key, v)
	}
}

// Clone returns a deep copy. Nested maps and slices are copied; scalar
// values are immutable and shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		return map[string]any(Payload(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// MarshalJSONString encodes the payload as a JSON object, with "{}" for an
// empty or nil payload. Stores persist payloads through this helper so the
// column never holds NULL or malformed text.
func (p Payload) MarshalJSONString() (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}
	return string(b), nil
}

// ParsePayload decodes a JSON object string produced by MarshalJSONString.
// Empty input and "{}" both yield a nil payload.
func ParsePayload(s string) (Payload, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

// GetString returns the string value at key, or "" when absent or not a string.
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value at key, or false when absent or not a bool.
func (p Payload) GetBool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// GetInt returns the numeric value at key as an int. JSON round-trips store
// numbers as float64, so both representations are accepted.
func (p Payload) GetInt(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
