package eventsrc_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0m3kk/eventlog/eventsrc"
)

func TestNewEvent(t *testing.T) {
	evt := eventsrc.NewEvent("user-1", "UserCreated", 1, nil)

	assert.NotEqual(t, uuid.Nil, evt.ID)
	assert.Equal(t, "user-1", evt.AggregateID)
	assert.Equal(t, int64(1), evt.Version)
	assert.NotNil(t, evt.Payload)
	assert.True(t, evt.Timestamp.IsZero(), "timestamp is assigned by the store")
	assert.NoError(t, evt.Validate())
}

func TestStoredEvent_Validate(t *testing.T) {
	valid := eventsrc.NewEvent("user-1", "UserCreated", 1, eventsrc.Payload{})

	tests := []struct {
		name   string
		mutate func(e *eventsrc.StoredEvent)
	}{
		{"nil id", func(e *eventsrc.StoredEvent) { e.ID = uuid.Nil }},
		{"empty aggregate", func(e *eventsrc.StoredEvent) { e.AggregateID = "" }},
		{"empty type", func(e *eventsrc.StoredEvent) { e.EventType = "" }},
		{"zero version", func(e *eventsrc.StoredEvent) { e.Version = 0 }},
		{"nil payload", func(e *eventsrc.StoredEvent) { e.Payload = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := valid
			tt.mutate(&evt)
			assert.ErrorIs(t, evt.Validate(), eventsrc.ErrInvalidEvent)
		})
	}
}

func TestPayload_Accessors(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := eventsrc.Payload{
		"name":    "Ada",
		"age":     36,
		"big":     int64(1) << 40,
		"float":   float64(7),
		"number":  json.Number("12"),
		"ratio":   0.25,
		"active":  true,
		"at":      now,
		"at_text": now.Format(time.RFC3339Nano),
		"nothing": nil,
	}

	name, err := p.Str("name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	for key, want := range map[string]int64{"age": 36, "big": 1 << 40, "float": 7, "number": 12} {
		got, err := p.Int(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	ratio, err := p.Float("ratio")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, ratio, 1e-12)

	active, err := p.Bool("active")
	require.NoError(t, err)
	assert.True(t, active)

	at, err := p.Time("at")
	require.NoError(t, err)
	assert.True(t, now.Equal(at))
	atText, err := p.Time("at_text")
	require.NoError(t, err)
	assert.True(t, now.Equal(atText))

	assert.True(t, p.Has("name"))
	assert.False(t, p.Has("nothing"))
	assert.False(t, p.Has("missing"))
}

func TestPayload_AccessorErrors(t *testing.T) {
	p := eventsrc.Payload{
		"name": "Ada", "ratio": 0.5, "nothing": nil,
		"huge": 1e19, "tiny": -1e19, "edge": float64(math.MaxInt64), "nan": math.NaN(),
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"missing string", func() error { _, err := p.Str("missing"); return err }},
		{"null string", func() error { _, err := p.Str("nothing"); return err }},
		{"int from string", func() error { _, err := p.Int("name"); return err }},
		{"int from fraction", func() error { _, err := p.Int("ratio"); return err }},
		{"int above range", func() error { _, err := p.Int("huge"); return err }},
		{"int below range", func() error { _, err := p.Int("tiny"); return err }},
		{"int at two to the 63", func() error { _, err := p.Int("edge"); return err }},
		{"int from NaN", func() error { _, err := p.Int("nan"); return err }},
		{"bool from string", func() error { _, err := p.Bool("name"); return err }},
		{"time from garbage", func() error { _, err := p.Time("name"); return err }},
		{"float from string", func() error { _, err := p.Float("name"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, eventsrc.ErrInvalidPayload)
			var perr *eventsrc.PayloadError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestPayload_SchemaVersion(t *testing.T) {
	v, err := eventsrc.Payload{}.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, eventsrc.DefaultSchemaVersion, v)

	v, err = eventsrc.Payload{"schema_version": float64(3)}.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = eventsrc.Payload{"schema_version": "two"}.SchemaVersion()
	assert.ErrorIs(t, err, eventsrc.ErrInvalidPayload)
}

func TestPayload_DecodeAndFrom(t *testing.T) {
	type userCreated struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	p, err := eventsrc.PayloadFrom(userCreated{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, eventsrc.Payload{"name": "Ada", "email": "ada@example.com"}, p)

	var out userCreated
	require.NoError(t, p.Decode(&out))
	assert.Equal(t, "Ada", out.Name)

	var wrong struct {
		Name int `json:"name"`
	}
	assert.ErrorIs(t, p.Decode(&wrong), eventsrc.ErrInvalidPayload)
}

func TestPayload_Clone(t *testing.T) {
	p := eventsrc.Payload{"name": "Ada"}
	c := p.Clone()
	c["name"] = "Grace"

	assert.Equal(t, "Ada", p["name"])
	assert.Nil(t, eventsrc.Payload(nil).Clone())
}

func TestPayload_CloneIsDeep(t *testing.T) {
	p := eventsrc.Payload{
		"meta": map[string]any{"source": "web"},
		"tags": []any{"a", map[string]any{"k": "v"}},
	}
	c := p.Clone()
	c["meta"].(map[string]any)["source"] = "cli"
	c["tags"].([]any)[0] = "b"
	c["tags"].([]any)[1].(map[string]any)["k"] = "w"

	assert.Equal(t, "web", p["meta"].(map[string]any)["source"])
	assert.Equal(t, "a", p["tags"].([]any)[0])
	assert.Equal(t, "v", p["tags"].([]any)[1].(map[string]any)["k"])
}

func TestPayload_IntAtLowerBound(t *testing.T) {
	n, err := eventsrc.Payload{"n": float64(math.MinInt64)}.Int("n")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), n)
}
