package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/sample/query/repository"
	"github.com/0m3kk/eventlog/sample/query/view"
)

var ErrorUserNotFound = errors.New("user not found")

type GetUserByID struct {
	ID string `json:"id"`
}

func (GetUserByID) QueryName() string { return "GetUserByID" }

type ListUsers struct {
	ActiveOnly bool `json:"active_only"`
}

func (ListUsers) QueryName() string { return "ListUsers" }

// UserQueries reads user views. It never touches the event store.
type UserQueries struct {
	repository repository.UserViews
}

func NewUserQueries(repository repository.UserViews) *UserQueries {
	return &UserQueries{repository: repository}
}

func (q *UserQueries) Register(bus *cqrs.QueryBus) error {
	if err := cqrs.RegisterQuery(bus, q.GetUserByID); err != nil {
		return err
	}
	return cqrs.RegisterQuery(bus, q.ListUsers)
}

// GetUserByID retrieves a user view by its ID.
func (q *UserQueries) GetUserByID(ctx context.Context, query GetUserByID) (view.UserView, error) {
	userView, err := q.repository.GetUserView(ctx, query.ID)
	if err != nil {
		return view.UserView{}, fmt.Errorf("get user view by id = %s failed. %w", query.ID, err)
	}
	if userView == nil {
		return view.UserView{}, fmt.Errorf("user with id = %s not found. %w", query.ID, ErrorUserNotFound)
	}
	return *userView, nil
}

func (q *UserQueries) ListUsers(ctx context.Context, query ListUsers) ([]view.UserView, error) {
	views, err := q.repository.ListUserViews(ctx)
	if err != nil {
		return nil, err
	}
	if !query.ActiveOnly {
		return views, nil
	}
	active := views[:0]
	for _, v := range views {
		if v.Active {
			active = append(active, v)
		}
	}
	return active, nil
}
