package aggregate

import (
	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/domain"
	"github.com/0m3kk/eventlog/sample/domain/event"
)

// AccountAggregate holds a balance that never goes below zero. Its state is
// snapshotted with the default json encoding.
type AccountAggregate struct {
	*eventsrc.AggregateRoot
	Account domain.Account `json:"account"`
}

func NewAccountAggregate(id string) *AccountAggregate {
	a := &AccountAggregate{AggregateRoot: eventsrc.NewAggregateRoot(id)}
	a.On(event.AccountOpenedEventType, func(evt eventsrc.StoredEvent) error {
		owner, err := evt.Payload.Str("owner")
		if err != nil {
			return err
		}
		a.Account = domain.Account{Owner: owner}
		return nil
	})
	a.On(event.MoneyDepositedEventType, func(evt eventsrc.StoredEvent) error {
		amount, err := evt.Payload.Int("amount")
		if err != nil {
			return err
		}
		a.Account.Balance += amount
		return nil
	})
	a.On(event.MoneyWithdrawnEventType, func(evt eventsrc.StoredEvent) error {
		amount, err := evt.Payload.Int("amount")
		if err != nil {
			return err
		}
		a.Account.Balance -= amount
		return nil
	})
	a.Validate(func() error { return a.Account.Validate() })
	return a
}
