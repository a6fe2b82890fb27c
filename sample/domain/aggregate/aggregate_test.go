package aggregate

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/event"
)

type AggregateSuite struct {
	suite.Suite
}

func TestAggregateSuite(t *testing.T) {
	suite.Run(t, new(AggregateSuite))
}

func (s *AggregateSuite) TestUserReplaysBothEmailSchemas() {
	// GIVEN a history with a schema 1 and a schema 2 email change
	history := []eventsrc.StoredEvent{
		eventsrc.NewEvent("u-1", event.UserCreatedEventType, 1, event.UserCreated("Ada", "ada@example.com")),
		eventsrc.NewEvent("u-1", event.UserEmailUpdatedEventType, 2, eventsrc.Payload{"email": "old@example.com"}),
	}

	// WHEN the user is rebuilt
	u := NewUserAggregate("u-1")
	s.Require().NoError(u.LoadFromHistory(history))

	// THEN the schema 1 event leaves the email unverified
	s.Equal(int64(2), u.Version())
	s.Equal("old@example.com", u.User.Email)
	s.False(u.User.EmailVerified)

	// AND a schema 2 event carries the flag
	s.Require().NoError(u.TrackChange(event.UserEmailUpdatedEventType, event.UserEmailUpdated("new@example.com", true)))
	s.Equal("new@example.com", u.User.Email)
	s.True(u.User.EmailVerified)
	s.Len(u.GetUncommittedEvents(), 1)
}

func (s *AggregateSuite) TestUserRejectsInvalidEmail() {
	u := NewUserAggregate("u-1")
	s.Require().NoError(u.TrackChange(event.UserCreatedEventType, event.UserCreated("Ada", "ada@example.com")))

	err := NewUserAggregate("u-2").TrackChange(event.UserCreatedEventType, event.UserCreated("Bob", "not-an-email"))
	s.Require().ErrorIs(err, eventsrc.ErrRejected)
	s.Equal(eventsrc.CategoryFixInput, eventsrc.Classify(err))
}

func (s *AggregateSuite) TestUserSnapshotRoundTrip() {
	// GIVEN a user with some history
	u := NewUserAggregate("u-1")
	s.Require().NoError(u.TrackChange(event.UserCreatedEventType, event.UserCreated("Ada", "ada@example.com")))
	s.Require().NoError(u.TrackChange(event.UserDeactivatedEventType, event.UserDeactivated("left")))

	// WHEN it is snapshotted and restored into a fresh aggregate
	snap, err := eventsrc.TakeSnapshot(u)
	s.Require().NoError(err)
	restored := NewUserAggregate("u-1")
	s.Require().NoError(eventsrc.RestoreSnapshot(restored, &snap))

	// THEN state and version match
	s.Equal(u.User, restored.User)
	s.Equal(int64(2), restored.Version())
	s.Empty(restored.GetUncommittedEvents())
}

func (s *AggregateSuite) TestAccountCannotBeOverdrawn() {
	a := NewAccountAggregate("a-1")
	s.Require().NoError(a.TrackChange(event.AccountOpenedEventType, event.AccountOpened("u-1")))
	s.Require().NoError(a.TrackChange(event.MoneyDepositedEventType, event.MoneyDeposited(50)))

	err := a.TrackChange(event.MoneyWithdrawnEventType, event.MoneyWithdrawn(80))
	s.Require().ErrorIs(err, eventsrc.ErrRejected)
	s.Len(a.GetUncommittedEvents(), 2)
}

func (s *AggregateSuite) TestAccountSnapshotUsesDefaultEncoding() {
	a := NewAccountAggregate("a-1")
	s.Require().NoError(a.TrackChange(event.AccountOpenedEventType, event.AccountOpened("u-1")))
	s.Require().NoError(a.TrackChange(event.MoneyDepositedEventType, event.MoneyDeposited(70)))

	snap, err := eventsrc.TakeSnapshot(a)
	s.Require().NoError(err)
	s.JSONEq(`{"account":{"owner":"u-1","balance":70}}`, string(snap.State))

	restored := NewAccountAggregate("a-1")
	s.Require().NoError(eventsrc.RestoreSnapshot(restored, &snap))
	s.Equal(int64(70), restored.Account.Balance)
	s.Equal(int64(2), restored.Version())
}
