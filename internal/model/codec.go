package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Encode serializes the model to canonical JSON for registry storage.
func Encode(m *Model) ([]byte, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return data, nil
}

// Decode restores a model from its registry blob.
func Decode(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Classes) != len(m.Centroids) {
		return nil, errors.New("decode model: classes and centroids length mismatch")
	}
	return &m, nil
}
