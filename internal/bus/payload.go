package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// command is the JSON body published for every datapoint write.
type command struct {
	ID        string `json:"id"`
	Target    string `json:"target"`
	Value     any    `json:"value"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func encodeCommand(id, target string, value any, source string, now time.Time) ([]byte, error) {
	data, err := json.Marshal(command{
		ID:        id,
		Target:    target,
		Value:     value,
		Source:    source,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	return data, nil
}

// decodeState accepts {"value": x}, a bare JSON scalar, or plain text.
// Numbers decode as float64; plain text is returned as a string.
func decodeState(payload []byte) (any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		// Not JSON: bridges commonly publish bare words such as ON or OFF.
		return string(trimmed), nil
	}

	if obj, ok := decoded.(map[string]any); ok {
		v, has := obj["value"]
		if !has {
			return nil, fmt.Errorf("%w: object without \"value\"", ErrInvalidPayload)
		}
		decoded = v
	}

	switch decoded.(type) {
	case bool, float64, string:
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a scalar", ErrInvalidPayload, decoded)
	}
}
