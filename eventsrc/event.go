package eventsrc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// SchemaVersionKey is the payload field carrying the payload schema version.
const SchemaVersionKey = "schema_version"

// DefaultSchemaVersion is assumed for payloads without a schema_version field.
const DefaultSchemaVersion = 1

// StoredEvent is an immutable fact recorded for one aggregate.
type StoredEvent struct {
	ID          uuid.UUID `json:"id"`
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Payload     Payload   `json:"payload"`
	// Timestamp is assigned by the store when the event is appended.
	Timestamp time.Time `json:"timestamp"`
	// Version is 1-based and gap-free within AggregateID.
	Version int64 `json:"version"`
}

// NewEvent builds an event with a fresh ID. The timestamp is left to the store.
func NewEvent(aggregateID, eventType string, version int64, payload Payload) StoredEvent {
	if payload == nil {
		payload = Payload{}
	}
	return StoredEvent{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		Version:     version,
	}
}

// Validate checks the fields a store needs before accepting the event.
func (e StoredEvent) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: event id is empty", ErrInvalidEvent)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("%w: aggregate id is empty", ErrInvalidEvent)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event type is empty", ErrInvalidEvent)
	}
	if e.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1, got %d", ErrInvalidEvent, e.Version)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: payload is nil", ErrInvalidEvent)
	}
	return nil
}

// Payload is the schema-less document carried by an event.
// Field access goes through the typed accessors, which fail with a *PayloadError
// instead of silently returning zero values.
type Payload map[string]any

// PayloadError reports a missing or mistyped payload field.
type PayloadError struct {
	Key  string
	Want string
	Got  any
}

func (e *PayloadError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("payload field %q: missing, want %s", e.Key, e.Want)
	}
	return fmt.Sprintf("payload field %q: want %s, got %T", e.Key, e.Want, e.Got)
}

func (e *PayloadError) Is(target error) bool { return target == ErrInvalidPayload }

func (p Payload) lookup(key, want string) (any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, &PayloadError{Key: key, Want: want}
	}
	return v, nil
}

// Has reports whether key is present with a non-null value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Str returns a string field.
func (p Payload) Str(key string) (string, error) {
	v, err := p.lookup(key, "string")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &PayloadError{Key: key, Want: "string", Got: v}
	}
	return s, nil
}

// Int accepts any integral number, including float64 values produced by JSON decoding.
func (p Payload) Int(key string) (int64, error) {
	v, err := p.lookup(key, "integer")
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, &PayloadError{Key: key, Want: "integer", Got: v}
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, &PayloadError{Key: key, Want: "integer", Got: v}
		}
		return i, nil
	}
	return 0, &PayloadError{Key: key, Want: "integer", Got: v}
}

func (p Payload) Float(key string) (float64, error) {
	v, err := p.lookup(key, "number")
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &PayloadError{Key: key, Want: "number", Got: v}
		}
		return f, nil
	}
	return 0, &PayloadError{Key: key, Want: "number", Got: v}
}

func (p Payload) Bool(key string) (bool, error) {
	v, err := p.lookup(key, "bool")
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &PayloadError{Key: key, Want: "bool", Got: v}
	}
	return b, nil
}

// Time accepts a time.Time or an RFC 3339 string.
func (p Payload) Time(key string) (time.Time, error) {
	v, err := p.lookup(key, "timestamp")
	if err != nil {
		return time.Time{}, err
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, &PayloadError{Key: key, Want: "timestamp", Got: v}
		}
		return parsed, nil
	}
	return time.Time{}, &PayloadError{Key: key, Want: "timestamp", Got: v}
}

// SchemaVersion returns the payload schema version, DefaultSchemaVersion when absent.
func (p Payload) SchemaVersion() (int, error) {
	if !p.Has(SchemaVersionKey) {
		return DefaultSchemaVersion, nil
	}
	v, err := p.Int(SchemaVersionKey)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Decode copies the payload into a typed struct using its json tags.
func (p Payload) Decode(target any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: decode into %T: %w", ErrInvalidPayload, target, err)
	}
	return nil
}

// Clone copies the payload together with nested maps and []any slices, the
// shapes JSON decoding produces. Other reference values stay shared.
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
	switch v := v.(type) {
	case Payload:
		return v.Clone()
	case map[string]any:
		return map[string]any(Payload(v).Clone())
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// DecodePayload parses a stored JSON document. Numbers are kept as json.Number
// so large integers survive the round trip.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// PayloadFrom encodes a typed struct into a Payload.
func PayloadFrom(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
