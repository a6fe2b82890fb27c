package projection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/event"
	"github.com/0m3kk/eventlog/sample/query/repository"
	"github.com/0m3kk/eventlog/sample/query/view"
)

// UserProjectionName is the subscriber ID of the user projection.
const UserProjectionName = "UserProjection"

// UserProjectionHandler is a subscriber that keeps a denormalized user view.
type UserProjectionHandler struct {
	repo repository.UserViews
}

func NewUserProjectionHandler(repo repository.UserViews) *UserProjectionHandler {
	return &UserProjectionHandler{repo: repo}
}

// Handle applies one user event to its view. Events of other types are ignored.
func (p *UserProjectionHandler) Handle(ctx context.Context, evt eventsrc.StoredEvent) error {
	if evt.EventType == event.UserCreatedEventType {
		return p.handleUserCreated(ctx, evt)
	}

	current, err := p.repo.GetUserView(ctx, evt.AggregateID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: no user view for %s at %s", eventsrc.ErrVersionGap, evt.AggregateID, evt.EventType)
	}
	v := *current

	switch evt.EventType {
	case event.UserNameUpdatedEventType:
		if v.Name, err = evt.Payload.Str("name"); err != nil {
			return err
		}
	case event.UserEmailUpdatedEventType:
		if v.Email, err = evt.Payload.Str("email"); err != nil {
			return err
		}
		v.EmailVerified = false
		if evt.Payload.Has("verified") {
			if v.EmailVerified, err = evt.Payload.Bool("verified"); err != nil {
				return err
			}
		}
	case event.UserDeactivatedEventType:
		v.Active = false
	default:
		return nil
	}

	v.Version = evt.Version
	v.UpdatedAt = evt.Timestamp
	slog.DebugContext(ctx, "Projecting UserView", "userID", v.ID, "eventType", evt.EventType, "version", v.Version)
	return p.repo.SaveUserView(ctx, v)
}

func (p *UserProjectionHandler) handleUserCreated(ctx context.Context, evt eventsrc.StoredEvent) error {
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := evt.Payload.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode UserCreated event: %w", err)
	}

	slog.InfoContext(ctx, "Projecting UserView", "userID", evt.AggregateID, "name", payload.Name)

	return p.repo.SaveUserView(ctx, view.UserView{
		ID:        evt.AggregateID,
		Name:      payload.Name,
		Email:     payload.Email,
		Active:    true,
		CreatedAt: evt.Timestamp,
		UpdatedAt: evt.Timestamp,
		Version:   evt.Version,
	})
}
