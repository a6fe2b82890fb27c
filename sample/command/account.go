package command

import (
	"context"
	"fmt"

	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/aggregate"
	"github.com/0m3kk/eventlog/sample/domain/domain"
	"github.com/0m3kk/eventlog/sample/domain/event"
	"github.com/0m3kk/eventlog/sample/domain/repository"
)

type OpenAccount struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

func (OpenAccount) CommandName() string    { return "OpenAccount" }
func (c OpenAccount) AggregateID() string { return c.ID }

type Deposit struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func (Deposit) CommandName() string    { return "Deposit" }
func (c Deposit) AggregateID() string { return c.ID }

type Withdraw struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func (Withdraw) CommandName() string    { return "Withdraw" }
func (c Withdraw) AggregateID() string { return c.ID }

// AccountHandlers decide account commands.
type AccountHandlers struct {
	repo *repository.AccountRepository
}

func NewAccountHandlers(repo *repository.AccountRepository) *AccountHandlers {
	return &AccountHandlers{repo: repo}
}

func (h *AccountHandlers) Register(bus *cqrs.CommandBus) error {
	if err := cqrs.RegisterCommand(bus, h.OpenAccount); err != nil {
		return err
	}
	if err := cqrs.RegisterCommand(bus, h.Deposit); err != nil {
		return err
	}
	return cqrs.RegisterCommand(bus, h.Withdraw)
}

func (h *AccountHandlers) OpenAccount(ctx context.Context, cmd OpenAccount) error {
	return cqrs.Execute(ctx, h.repo.Repository, cmd.ID, func(_ context.Context, a *aggregate.AccountAggregate) error {
		if a.Version() > 0 {
			return domain.ErrAlreadyExists
		}
		return a.TrackChange(event.AccountOpenedEventType, event.AccountOpened(cmd.Owner))
	})
}

func (h *AccountHandlers) Deposit(ctx context.Context, cmd Deposit) error {
	return h.move(ctx, cmd.ID, cmd.Amount, event.MoneyDepositedEventType, event.MoneyDeposited)
}

// Withdraw is rejected when it would overdraw the account.
func (h *AccountHandlers) Withdraw(ctx context.Context, cmd Withdraw) error {
	return h.move(ctx, cmd.ID, cmd.Amount, event.MoneyWithdrawnEventType, event.MoneyWithdrawn)
}

func (h *AccountHandlers) move(
	ctx context.Context,
	id string,
	amount int64,
	eventType string,
	payload func(int64) eventsrc.Payload,
) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", eventsrc.ErrRejected, amount)
	}
	return cqrs.Execute(ctx, h.repo.Repository, id, func(_ context.Context, a *aggregate.AccountAggregate) error {
		if a.Version() == 0 {
			return errNotFound("account", id)
		}
		return a.TrackChange(eventType, payload(amount))
	})
}

func errNotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s not found", eventsrc.ErrRejected, kind, id)
}
