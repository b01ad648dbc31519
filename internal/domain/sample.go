package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedValue is returned when a sample carries a value that cannot be
// represented on the wire (nil, NaN/Inf floats, structs, slices...).
var ErrUnsupportedValue = errors.New("domain: unsupported sample value")

// ErrUnnamedSample is returned when a sample has neither a name nor a key to
// use as its field name.
var ErrUnnamedSample = errors.New("domain: sample has no name or key")

// Sample is one timestamped value change emitted by a producer. Samples are
// treated as immutable once handed to the broadcaster.
type Sample struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Timestamp int64  `json:"time"` // milliseconds since epoch
	Value     any    `json:"value"`
}

// Label returns the human label of the sample, falling back to its key.
func (s Sample) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Key
}

// Normalized returns the sample value coerced to bool, int64, float64 or string.
func (s Sample) Normalized() (any, error) {
	return normalizeValue(s.Value)
}

type event struct {
	Name  string `json:"name"`
	Time  int64  `json:"time"`
	Value any    `json:"value"`
}

// Event encodes the sample as the JSON object pushed to subscribers:
// {"name": ..., "time": ..., "value": ...}.
func (s Sample) Event() ([]byte, error) {
	label := s.Label()
	if label == "" {
		return nil, ErrUnnamedSample
	}
	v, err := normalizeValue(s.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(event{Name: label, Time: s.Timestamp, Value: v})
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		return unsignedValue(uint64(val))
	case uint64:
		return unsignedValue(val)
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func unsignedValue(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, u)
	}
	return int64(u), nil
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	return f, nil
}
