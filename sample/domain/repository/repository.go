package repository

import (
	"log/slog"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/domain/aggregate"
)

// UserRepository loads and saves user aggregates.
type UserRepository struct {
	*eventsrc.Repository[*aggregate.UserAggregate]
}

// AccountRepository loads and saves account aggregates.
type AccountRepository struct {
	*eventsrc.Repository[*aggregate.AccountAggregate]
}

// Options are shared by the sample repositories. A nil Snapshots disables snapshots.
type Options struct {
	Snapshots     eventsrc.SnapshotStore
	SnapshotEvery int64
	Logger        *slog.Logger
}

func repoOptions[T eventsrc.EventSourced](o Options) []eventsrc.RepositoryOption[T] {
	var opts []eventsrc.RepositoryOption[T]
	if o.Snapshots != nil && o.SnapshotEvery > 0 {
		opts = append(opts, eventsrc.WithSnapshots[T](o.Snapshots, eventsrc.EveryN(o.SnapshotEvery)))
	}
	if o.Logger != nil {
		opts = append(opts, eventsrc.WithLogger[T](o.Logger))
	}
	return opts
}

func NewUserRepository(store eventsrc.Store, o Options) *UserRepository {
	return &UserRepository{
		Repository: eventsrc.NewRepository(store, aggregate.NewUserAggregate, repoOptions[*aggregate.UserAggregate](o)...),
	}
}

func NewAccountRepository(store eventsrc.Store, o Options) *AccountRepository {
	return &AccountRepository{
		Repository: eventsrc.NewRepository(store, aggregate.NewAccountAggregate, repoOptions[*aggregate.AccountAggregate](o)...),
	}
}
