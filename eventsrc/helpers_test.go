package eventsrc_test

import (
	"errors"
	"fmt"

	"github.com/0m3kk/eventlog/eventsrc"
)

// counter is a small aggregate used across the package tests.
type counter struct {
	*eventsrc.AggregateRoot
	Total int64 `json:"total"`
	Adds  int   `json:"adds"`
}

func newCounter(id string) *counter {
	c := &counter{AggregateRoot: eventsrc.NewAggregateRoot(id)}
	c.On("Added", func(evt eventsrc.StoredEvent) error {
		n, err := evt.Payload.Int("amount")
		if err != nil {
			return err
		}
		c.Total += n
		c.Adds++
		return nil
	})
	c.OnSchema("Added", 2, func(evt eventsrc.StoredEvent) error {
		n, err := evt.Payload.Int("amount")
		if err != nil {
			return err
		}
		times, err := evt.Payload.Int("times")
		if err != nil {
			return err
		}
		c.Total += n * times
		c.Adds++
		return nil
	})
	c.On("Reset", func(eventsrc.StoredEvent) error {
		c.Total = 0
		return nil
	})
	c.On("Broken", func(eventsrc.StoredEvent) error {
		return errors.New("boom")
	})
	c.Validate(func() error {
		if c.Total < 0 {
			return fmt.Errorf("%w: total %d is negative", eventsrc.ErrRejected, c.Total)
		}
		return nil
	})
	return c
}

func added(id string, version, amount int64) eventsrc.StoredEvent {
	return eventsrc.NewEvent(id, "Added", version, eventsrc.Payload{"amount": amount})
}
