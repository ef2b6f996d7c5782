package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseJSON reads a JSON object into a payload map.
// Numbers are kept as json.Number so 64-bit amounts survive unrounded.
func ParseJSON(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("codec: parse json payload: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// RenderJSON formats a normalized result for display.
func RenderJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
