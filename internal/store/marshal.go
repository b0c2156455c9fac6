package store

import (
	"encoding/json"
	"fmt"
)

// marshalJSON serializes a record column to JSON TEXT.
// Go's json.Marshal sorts map keys, which keeps stored summaries stable
// across writes of equal state.
func marshalJSON(v any, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a record column.
func unmarshalJSON(data string, v any, what string) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}

// marshalStrings serializes a string slice, normalizing nil to [].
func marshalStrings(list []string, what string) (string, error) {
	if list == nil {
		list = []string{}
	}
	return marshalJSON(list, what)
}
