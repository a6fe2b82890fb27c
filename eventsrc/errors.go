package eventsrc

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict matches any *VersionConflictError.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnknownEventType matches any *UnknownEventTypeError.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrUnknownPayloadSchema matches any *UnknownPayloadSchemaError.
	ErrUnknownPayloadSchema = errors.New("unknown payload schema")
	// ErrStorageUnavailable marks transient infrastructure failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrContention matches any *ContentionError.
	ErrContention = errors.New("contention")
	// ErrInvalidEvent is returned for events a store or aggregate must not accept.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidPayload matches any *PayloadError and payload decode failures.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrVersionGap is returned when an aggregate is handed an event that skips versions.
	ErrVersionGap = errors.New("version gap")
	// ErrRejected is wrapped by domain code when a command fails validation.
	ErrRejected = errors.New("command rejected")
)

// VersionConflictError is returned by Append when the attempted version is taken
// or does not directly follow the current head.
type VersionConflictError struct {
	AggregateID string
	Attempted   int64
	// Current is the head version observed by the store, -1 when unknown.
	Current int64
}

func (e *VersionConflictError) Error() string {
	if e.Current < 0 {
		return fmt.Sprintf("Version conflict for aggregate %s: version %d already exists", e.AggregateID, e.Attempted)
	}
	return fmt.Sprintf(
		"Version conflict for aggregate %s: version %d rejected, current version is %d",
		e.AggregateID, e.Attempted, e.Current,
	)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// UnknownEventTypeError is returned when an aggregate has no transition for an event type.
type UnknownEventTypeError struct {
	AggregateID string
	EventType   string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("Unknown event type: %s (aggregate %s)", e.EventType, e.AggregateID)
}

func (e *UnknownEventTypeError) Is(target error) bool { return target == ErrUnknownEventType }

// UnknownPayloadSchemaError is returned when the event type is known but its payload
// schema_version is not.
type UnknownPayloadSchemaError struct {
	EventType     string
	SchemaVersion int
}

func (e *UnknownPayloadSchemaError) Error() string {
	return fmt.Sprintf("unknown payload schema version %d for event type %s", e.SchemaVersion, e.EventType)
}

func (e *UnknownPayloadSchemaError) Is(target error) bool { return target == ErrUnknownPayloadSchema }

// ContentionError is returned by the command path once its retry budget is spent.
type ContentionError struct {
	AggregateID string
	Attempts    int
	Last        error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("contention on aggregate %s: gave up after %d attempts: %v", e.AggregateID, e.Attempts, e.Last)
}

func (e *ContentionError) Is(target error) bool { return target == ErrContention }
func (e *ContentionError) Unwrap() error        { return e.Last }

// Unavailable wraps err as a transient storage failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// Category tells a caller what to do with an error.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryRetry: reload and retry, or retry with backoff.
	CategoryRetry
	// CategoryFixInput: the request or the data is wrong; retrying will not help.
	CategoryFixInput
	// CategoryEscalate: automatic retries were exhausted.
	CategoryEscalate
)

func (c Category) String() string {
	switch c {
	case CategoryRetry:
		return "retry"
	case CategoryFixInput:
		return "fix_input"
	case CategoryEscalate:
		return "escalate"
	}
	return "unknown"
}

// Classify maps an error to its Category. Contention is checked first because a
// ContentionError unwraps to the VersionConflict that exhausted the budget.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrContention):
		return CategoryEscalate
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrStorageUnavailable):
		return CategoryRetry
	case errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrUnknownPayloadSchema),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrVersionGap),
		errors.Is(err, ErrRejected):
		return CategoryFixInput
	}
	return CategoryUnknown
}
