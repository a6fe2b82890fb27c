package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/0m3kk/eventlog/eventsrc"
)

var (
	// ErrNoHandler is returned when no handler is registered for a command or query name.
	ErrNoHandler = errors.New("no handler registered")
	// ErrDuplicateHandler is returned when a name is registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")
)

// DefaultMaxRetries is the number of reload-and-retry rounds after the first attempt.
const DefaultMaxRetries = 3

// Command is a request to change one aggregate.
type Command interface {
	CommandName() string
	AggregateID() string
}

// CommandHandler loads the aggregate, decides and saves. It is re-run from
// scratch when the save hits a version conflict, so it must not keep state
// between calls.
type CommandHandler func(ctx context.Context, cmd Command) error

// CommandObserver is told about every finished dispatch.
type CommandObserver interface {
	CommandFinished(name string, attempts int, elapsed time.Duration, err error)
}

// CommandBus routes commands to handlers and retries them on version conflicts.
type CommandBus struct {
	mu              sync.RWMutex
	handlers        map[string]CommandHandler
	maxRetries      int
	initialInterval time.Duration
	observer        CommandObserver
	log             *slog.Logger
}

// CommandBusOption configures a CommandBus.
type CommandBusOption func(*CommandBus)

// WithMaxRetries bounds the retries after a version conflict; 0 disables them.
func WithMaxRetries(n int) CommandBusOption {
	return func(b *CommandBus) {
		if n >= 0 {
			b.maxRetries = n
		}
	}
}

// WithRetryInterval sets the first backoff delay between attempts.
func WithRetryInterval(d time.Duration) CommandBusOption {
	return func(b *CommandBus) { b.initialInterval = d }
}

func WithObserver(o CommandObserver) CommandBusOption {
	return func(b *CommandBus) { b.observer = o }
}

func WithCommandLogger(log *slog.Logger) CommandBusOption {
	return func(b *CommandBus) { b.log = log }
}

func NewCommandBus(opts ...CommandBusOption) *CommandBus {
	b := &CommandBus{
		handlers:        map[string]CommandHandler{},
		maxRetries:      DefaultMaxRetries,
		initialInterval: 10 * time.Millisecond,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds a handler to a command name.
func (b *CommandBus) Register(name string, handler CommandHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("%w: command %s", ErrDuplicateHandler, name)
	}
	b.handlers[name] = handler
	return nil
}

// RegisterCommand binds a typed handler. The name comes from the zero value of C.
func RegisterCommand[C Command](b *CommandBus, handler func(ctx context.Context, cmd C) error) error {
	var zero C
	name := zero.CommandName()
	return b.Register(name, func(ctx context.Context, cmd Command) error {
		typed, ok := cmd.(C)
		if !ok {
			return fmt.Errorf("%w: command %s has type %T", eventsrc.ErrRejected, name, cmd)
		}
		return handler(ctx, typed)
	})
}

// Dispatch runs the handler for cmd. A version conflict reloads and retries up
// to the configured budget with exponential backoff; once the budget is spent
// the result is a *eventsrc.ContentionError. Every other error is returned as is.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.CommandName()]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: command %s", ErrNoHandler, cmd.CommandName())
	}

	commandID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate command id: %w", err)
	}
	log := b.log.With("commandID", commandID, "command", cmd.CommandName(), "aggregateID", cmd.AggregateID())

	start := time.Now()
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		err := handler(ctx, cmd)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, eventsrc.ErrVersionConflict):
			log.DebugContext(ctx, "Version conflict, reloading aggregate", "attempt", attempts, "error", err)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initialInterval
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(b.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err != nil && errors.Is(err, eventsrc.ErrVersionConflict) && attempts > b.maxRetries {
		err = &eventsrc.ContentionError{AggregateID: cmd.AggregateID(), Attempts: attempts, Last: err}
	}

	elapsed := time.Since(start)
	if b.observer != nil {
		b.observer.CommandFinished(cmd.CommandName(), attempts, elapsed, err)
	}
	if err != nil {
		log.WarnContext(ctx, "Command failed", "attempts", attempts, "category", eventsrc.Classify(err).String(), "error", err)
		return err
	}
	log.InfoContext(ctx, "Command handled", "attempts", attempts, "elapsed", elapsed)
	return nil
}

// Execute loads the aggregate, runs decide on it and saves the new events.
// Command handlers built on it get reload-on-conflict from Dispatch.
func Execute[T eventsrc.EventSourced](
	ctx context.Context,
	repo *eventsrc.Repository[T],
	aggregateID string,
	decide func(ctx context.Context, agg T) error,
) error {
	agg, err := repo.Load(ctx, aggregateID)
	if err != nil {
		return err
	}
	if err := decide(ctx, agg); err != nil {
		return err
	}
	return repo.Save(ctx, agg)
}
