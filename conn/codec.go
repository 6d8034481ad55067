package conn

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Frame is one parsed message delivered by the transport. Value holds the
// decoded JSON value (an object, array, or scalar); Original is populated
// only when Options.OutputOriginalData is set.
type Frame struct {
	Value      any
	Original   string
	ReceivedAt time.Time
}

// Get reads a key out of Value when it is an object, reporting whether the
// key was present.
func (f Frame) Get(key string) (any, bool) {
	m, ok := f.Value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// String reads key and type-asserts it to a string.
func (f Frame) String(key string) (string, bool) {
	v, ok := f.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ID is a convenience accessor for the common correlation field.
func (f Frame) ID() (any, bool) {
	return f.Get("id")
}

// Codec parses a raw frame string into a Frame. The core delegates all wire
// format knowledge to the codec.
type Codec interface {
	Parse(payload string) (Frame, error)
}

// JSONCodec is the default Codec, backed by goccy/go-json. A payload that
// fails to parse is retried once wrapped in quotes, admitting bare scalar
// frames such as a lone `pong`.
type JSONCodec struct{}

// Parse implements Codec.
func (JSONCodec) Parse(payload string) (Frame, error) {
	trimmed := strings.TrimSpace(payload)

	var value any
	firstErr := json.Unmarshal([]byte(trimmed), &value)
	if firstErr == nil {
		return Frame{Value: value}, nil
	}
	if err := parseQuoted(trimmed, &value); err == nil {
		return Frame{Value: value}, nil
	}
	return Frame{}, fmt.Errorf("parse frame: %w", firstErr)
}

func parseQuoted(trimmed string, out *any) error {
	quoted, err := json.Marshal(trimmed)
	if err != nil {
		return err
	}
	return json.Unmarshal(quoted, out)
}
