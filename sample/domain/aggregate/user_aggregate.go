package aggregate

import (
	"encoding/json"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/domain"
	"github.com/0m3kk/eventlog/sample/domain/event"
)

// UserAggregate is our aggregate root. It embeds the base eventsrc.AggregateRoot for
// event sourcing behavior and holds its own state directly.
type UserAggregate struct {
	*eventsrc.AggregateRoot
	User domain.User `json:"user"`
}

// NewUserAggregate is a factory for creating a new, empty UserAggregate instance.
// It's used by the repository to create a new aggregate before loading its history.
func NewUserAggregate(id string) *UserAggregate {
	u := &UserAggregate{AggregateRoot: eventsrc.NewAggregateRoot(id)}
	u.On(event.UserCreatedEventType, u.onUserCreated)
	u.On(event.UserNameUpdatedEventType, u.onUserNameUpdated)
	u.OnSchema(event.UserEmailUpdatedEventType, 1, u.onUserEmailUpdatedV1)
	u.OnSchema(event.UserEmailUpdatedEventType, 2, u.onUserEmailUpdatedV2)
	u.On(event.UserDeactivatedEventType, u.onUserDeactivated)
	u.Validate(u.validate)
	return u
}

func (u *UserAggregate) validate() error { return u.User.Validate() }

// --- Snapshotting via json.Marshaler / json.Unmarshaler ---

// MarshalJSON implements the json.Marshaler interface for creating snapshots.
func (u *UserAggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		User domain.User `json:"user"`
	}{u.User})
}

// UnmarshalJSON implements the json.Unmarshaler interface for restoring from snapshots.
func (u *UserAggregate) UnmarshalJSON(data []byte) error {
	var aux struct {
		User domain.User `json:"user"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.User = aux.User
	return nil
}

func (u *UserAggregate) onUserCreated(evt eventsrc.StoredEvent) error {
	var p struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := evt.Payload.Decode(&p); err != nil {
		return err
	}
	u.User = domain.User{Name: p.Name, Email: p.Email, Active: true}
	return nil
}

func (u *UserAggregate) onUserNameUpdated(evt eventsrc.StoredEvent) error {
	name, err := evt.Payload.Str("name")
	if err != nil {
		return err
	}
	u.User.Name = name
	return nil
}

func (u *UserAggregate) onUserEmailUpdatedV1(evt eventsrc.StoredEvent) error {
	email, err := evt.Payload.Str("email")
	if err != nil {
		return err
	}
	u.User.Email = email
	u.User.EmailVerified = false
	return nil
}

func (u *UserAggregate) onUserEmailUpdatedV2(evt eventsrc.StoredEvent) error {
	email, err := evt.Payload.Str("email")
	if err != nil {
		return err
	}
	verified, err := evt.Payload.Bool("verified")
	if err != nil {
		return err
	}
	u.User.Email = email
	u.User.EmailVerified = verified
	return nil
}

func (u *UserAggregate) onUserDeactivated(eventsrc.StoredEvent) error {
	u.User.Active = false
	return nil
}
