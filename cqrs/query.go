package cqrs

import (
	"context"
	"fmt"
	"sync"
)

// Query is a read request served from projections.
type Query interface {
	QueryName() string
}

type QueryHandler func(ctx context.Context, q Query) (any, error)

// QueryBus routes queries to read-side handlers. It never touches the event store.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]QueryHandler
}

func NewQueryBus() *QueryBus {
	return &QueryBus{handlers: map[string]QueryHandler{}}
}

func (b *QueryBus) Register(name string, handler QueryHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("%w: query %s", ErrDuplicateHandler, name)
	}
	b.handlers[name] = handler
	return nil
}

// RegisterQuery binds a typed handler. The name comes from the zero value of Q.
func RegisterQuery[Q Query, R any](b *QueryBus, handler func(ctx context.Context, q Q) (R, error)) error {
	var zero Q
	name := zero.QueryName()
	return b.Register(name, func(ctx context.Context, q Query) (any, error) {
		typed, ok := q.(Q)
		if !ok {
			return nil, fmt.Errorf("query %s has type %T", name, q)
		}
		return handler(ctx, typed)
	})
}

// Ask dispatches q to its handler.
func (b *QueryBus) Ask(ctx context.Context, q Query) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[q.QueryName()]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: query %s", ErrNoHandler, q.QueryName())
	}
	return handler(ctx, q)
}

// Ask dispatches q and asserts the result type.
func Ask[R any](ctx context.Context, b *QueryBus, q Query) (R, error) {
	var zero R
	res, err := b.Ask(ctx, q)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("query %s returned %T", q.QueryName(), res)
	}
	return typed, nil
}
