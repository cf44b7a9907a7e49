package store

import (
	"encoding/json"
	"fmt"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

// encodeJSON marshals v for a JSON column, substituting the given fallback
// literal when v is empty.
func encodeJSON(v interface{}, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON column: %w", err)
	}
	return string(data), nil
}

// decodeNodes unmarshals a flow's nodes column.
func decodeNodes(data string) (map[string]models.Node, error) {
	nodes := make(map[string]models.Node)
	if data == "" {
		return nodes, nil
	}
	if err := json.Unmarshal([]byte(data), &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode flow nodes: %w", err)
	}
	return nodes, nil
}

// decodeStringMap unmarshals a variables/metadata column.
func decodeStringMap(data string) (map[string]string, error) {
	m := make(map[string]string)
	if data == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode string map: %w", err)
	}
	return m, nil
}

// decodeStringSlice unmarshals a tags column.
func decodeStringSlice(data string) ([]string, error) {
	var s []string
	if data == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode string slice: %w", err)
	}
	return s, nil
}
