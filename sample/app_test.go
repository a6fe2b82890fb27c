package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/config"
	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/command"
	"github.com/0m3kk/eventlog/sample/domain/domain"
	"github.com/0m3kk/eventlog/sample/query/query"
	"github.com/0m3kk/eventlog/sample/query/view"
)

type ApplicationSuite struct {
	suite.Suite
	ctx context.Context
	log *slog.Logger
}

func TestApplicationSuite(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}

func (s *ApplicationSuite) SetupTest() {
	s.ctx = context.Background()
	s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ApplicationSuite) start(cfg config.Config) *application {
	app, err := newApplication(s.ctx, &cfg, prometheus.NewRegistry(), s.log)
	s.Require().NoError(err)
	return app
}

func (s *ApplicationSuite) user(app *application, id string) view.UserView {
	u, err := cqrs.Ask[view.UserView](s.ctx, app.Queries, query.GetUserByID{ID: id})
	s.Require().NoError(err)
	return u
}

func (s *ApplicationSuite) TestMemoryCommandToQueryLoop() {
	// GIVEN a service on the in-memory store
	app := s.start(config.Default())
	defer app.Close()
	id := uuid.NewString()

	// WHEN a user is created, renamed and given a verified email
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.CreateUser{ID: id, Name: "Ada", Email: "ada@example.com"}))
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.RenameUser{ID: id, Name: "Ada Lovelace"}))
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.ChangeEmail{ID: id, Email: "ada@lovelace.dev", Verified: true}))

	// THEN the view reflects every event
	u := s.user(app, id)
	s.Equal("Ada Lovelace", u.Name)
	s.Equal("ada@lovelace.dev", u.Email)
	s.True(u.EmailVerified)
	s.True(u.Active)
	s.Equal(int64(3), u.Version)

	// AND the log holds the same history
	events, err := app.Store.GetEvents(s.ctx, id)
	s.Require().NoError(err)
	s.Len(events, 3)
}

func (s *ApplicationSuite) TestDeactivatedUserRejectsUpdates() {
	app := s.start(config.Default())
	defer app.Close()
	active, gone := uuid.NewString(), uuid.NewString()

	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.CreateUser{ID: active, Name: "Ada", Email: "ada@example.com"}))
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.CreateUser{ID: gone, Name: "Bob", Email: "bob@example.com"}))
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.DeactivateUser{ID: gone, Reason: "left"}))

	err := app.Commands.Dispatch(s.ctx, command.RenameUser{ID: gone, Name: "Robert"})
	s.Require().ErrorIs(err, domain.ErrUserInactive)
	s.Equal(eventsrc.CategoryFixInput, eventsrc.Classify(err))

	users, err := cqrs.Ask[[]view.UserView](s.ctx, app.Queries, query.ListUsers{ActiveOnly: true})
	s.Require().NoError(err)
	s.Require().Len(users, 1)
	s.Equal(active, users[0].ID)

	all, err := cqrs.Ask[[]view.UserView](s.ctx, app.Queries, query.ListUsers{})
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *ApplicationSuite) TestDuplicateCreateIsRejected() {
	app := s.start(config.Default())
	defer app.Close()
	id := uuid.NewString()

	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.CreateUser{ID: id, Name: "Ada", Email: "ada@example.com"}))
	err := app.Commands.Dispatch(s.ctx, command.CreateUser{ID: id, Name: "Ada", Email: "ada@example.com"})
	s.Require().ErrorIs(err, domain.ErrAlreadyExists)
}

func (s *ApplicationSuite) TestOverdraftIsRejected() {
	// GIVEN an account holding 100
	app := s.start(config.Default())
	defer app.Close()
	id := uuid.NewString()
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.OpenAccount{ID: id, Owner: "u-1"}))
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.Deposit{ID: id, Amount: 100}))

	// WHEN more than the balance is withdrawn
	err := app.Commands.Dispatch(s.ctx, command.Withdraw{ID: id, Amount: 250})

	// THEN the command is rejected and nothing is appended
	s.Require().ErrorIs(err, eventsrc.ErrRejected)
	s.Equal(eventsrc.CategoryFixInput, eventsrc.Classify(err))
	events, err := app.Store.GetEvents(s.ctx, id)
	s.Require().NoError(err)
	s.Len(events, 2)

	// AND an exact withdrawal still goes through
	s.Require().NoError(app.Commands.Dispatch(s.ctx, command.Withdraw{ID: id, Amount: 100}))
	s.ErrorIs(app.Commands.Dispatch(s.ctx, command.Deposit{ID: id, Amount: 0}), eventsrc.ErrRejected)
}

func (s *ApplicationSuite) TestSQLiteViewsAreRebuiltOnRestart() {
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(s.T().TempDir(), "events.db")
	id := uuid.NewString()

	// GIVEN a user written by a first process
	first := s.start(cfg)
	s.Require().NoError(first.Commands.Dispatch(s.ctx, command.CreateUser{ID: id, Name: "Ada", Email: "ada@example.com"}))
	s.Require().NoError(first.Commands.Dispatch(s.ctx, command.RenameUser{ID: id, Name: "Ada Lovelace"}))
	first.Close()

	// WHEN a second process opens the same file
	second := s.start(cfg)
	defer second.Close()

	// THEN the view is rebuilt from the log
	u := s.user(second, id)
	s.Equal("Ada Lovelace", u.Name)
	s.Equal(int64(2), u.Version)

	// AND new events continue from the rebuilt version
	s.Require().NoError(second.Commands.Dispatch(s.ctx, command.DeactivateUser{ID: id}))
	u = s.user(second, id)
	s.False(u.Active)
	s.Equal(int64(3), u.Version)
}

func (s *ApplicationSuite) TestUnknownUserIsNotFound() {
	app := s.start(config.Default())
	defer app.Close()

	_, err := cqrs.Ask[view.UserView](s.ctx, app.Queries, query.GetUserByID{ID: "missing"})
	s.Require().ErrorIs(err, query.ErrorUserNotFound)

	err = app.Commands.Dispatch(s.ctx, command.RenameUser{ID: "missing", Name: "x"})
	s.ErrorIs(err, eventsrc.ErrRejected)
}
