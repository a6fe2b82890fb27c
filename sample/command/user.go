package command

import (
	"context"

	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/sample/domain/aggregate"
	"github.com/0m3kk/eventlog/sample/domain/domain"
	"github.com/0m3kk/eventlog/sample/domain/event"
	"github.com/0m3kk/eventlog/sample/domain/repository"
)

// CreateUser is the command for creating a new user.
type CreateUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (CreateUser) CommandName() string    { return "CreateUser" }
func (c CreateUser) AggregateID() string { return c.ID }

type RenameUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (RenameUser) CommandName() string    { return "RenameUser" }
func (c RenameUser) AggregateID() string { return c.ID }

type ChangeEmail struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

func (ChangeEmail) CommandName() string    { return "ChangeEmail" }
func (c ChangeEmail) AggregateID() string { return c.ID }

type DeactivateUser struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (DeactivateUser) CommandName() string    { return "DeactivateUser" }
func (c DeactivateUser) AggregateID() string { return c.ID }

// UserHandlers decide user commands.
type UserHandlers struct {
	repo *repository.UserRepository
}

func NewUserHandlers(repo *repository.UserRepository) *UserHandlers {
	return &UserHandlers{repo: repo}
}

func (h *UserHandlers) Register(bus *cqrs.CommandBus) error {
	if err := cqrs.RegisterCommand(bus, h.CreateUser); err != nil {
		return err
	}
	if err := cqrs.RegisterCommand(bus, h.RenameUser); err != nil {
		return err
	}
	if err := cqrs.RegisterCommand(bus, h.ChangeEmail); err != nil {
		return err
	}
	return cqrs.RegisterCommand(bus, h.DeactivateUser)
}

func (h *UserHandlers) CreateUser(ctx context.Context, cmd CreateUser) error {
	return cqrs.Execute(ctx, h.repo.Repository, cmd.ID, func(_ context.Context, u *aggregate.UserAggregate) error {
		if u.Version() > 0 {
			return domain.ErrAlreadyExists
		}
		return u.TrackChange(event.UserCreatedEventType, event.UserCreated(cmd.Name, cmd.Email))
	})
}

func (h *UserHandlers) RenameUser(ctx context.Context, cmd RenameUser) error {
	return h.update(ctx, cmd.ID, func(u *aggregate.UserAggregate) error {
		if u.User.Name == cmd.Name {
			return nil
		}
		return u.TrackChange(event.UserNameUpdatedEventType, event.UserNameUpdated(cmd.Name))
	})
}

func (h *UserHandlers) ChangeEmail(ctx context.Context, cmd ChangeEmail) error {
	return h.update(ctx, cmd.ID, func(u *aggregate.UserAggregate) error {
		return u.TrackChange(event.UserEmailUpdatedEventType, event.UserEmailUpdated(cmd.Email, cmd.Verified))
	})
}

func (h *UserHandlers) DeactivateUser(ctx context.Context, cmd DeactivateUser) error {
	return cqrs.Execute(ctx, h.repo.Repository, cmd.ID, func(_ context.Context, u *aggregate.UserAggregate) error {
		if u.Version() == 0 {
			return errNotFound("user", cmd.ID)
		}
		if !u.User.Active {
			return nil
		}
		return u.TrackChange(event.UserDeactivatedEventType, event.UserDeactivated(cmd.Reason))
	})
}

// update runs decide on an existing, active user.
func (h *UserHandlers) update(ctx context.Context, id string, decide func(u *aggregate.UserAggregate) error) error {
	return cqrs.Execute(ctx, h.repo.Repository, id, func(_ context.Context, u *aggregate.UserAggregate) error {
		if u.Version() == 0 {
			return errNotFound("user", id)
		}
		if !u.User.Active {
			return domain.ErrUserInactive
		}
		return decide(u)
	})
}
