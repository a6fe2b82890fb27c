package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/0m3kk/eventlog/config"
	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/eventsrc"
	natsbroker "github.com/0m3kk/eventlog/infra/nats"
	pgstore "github.com/0m3kk/eventlog/infra/postgres"
	redisstore "github.com/0m3kk/eventlog/infra/redis"
	sqlitestore "github.com/0m3kk/eventlog/infra/sqlite"
	"github.com/0m3kk/eventlog/metrics"
	"github.com/0m3kk/eventlog/msgbus"
	"github.com/0m3kk/eventlog/outbox"
	"github.com/0m3kk/eventlog/sample/command"
	"github.com/0m3kk/eventlog/sample/domain/event"
	domainRepository "github.com/0m3kk/eventlog/sample/domain/repository"
	"github.com/0m3kk/eventlog/sample/query/projection"
	"github.com/0m3kk/eventlog/sample/query/query"
	viewRepository "github.com/0m3kk/eventlog/sample/query/repository"
)

// application is the wired service: write side, read side and their plumbing.
type application struct {
	Commands *cqrs.CommandBus
	Queries  *cqrs.QueryBus
	Store    eventsrc.Store
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *application) onClose(fn func()) { a.closers = append(a.closers, fn) }

// readSide is what the projection needs from the chosen backend.
type readSide struct {
	views       viewRepository.UserViews
	idempotency cqrs.IdempotencyStore
	transactor  cqrs.Transactor
	// rebuild is set when views do not survive a restart.
	rebuild bool
}

// newApplication wires the service for cfg. Every collector goes to reg.
func newApplication(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	storeMetrics := metrics.NewStoreMetrics(reg)
	commandMetrics := metrics.NewCommandMetrics(reg)
	projectionMetrics := metrics.NewProjectionMetrics(reg)

	var (
		store     eventsrc.Store
		snapshots eventsrc.SnapshotStore
		broker    msgbus.Broker
		read      readSide
	)

	// --- Infrastructure ---
	switch cfg.Store {
	case config.StorePostgres:
		db, err := pgstore.NewDB(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.onClose(db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Info("Database connection established")

		outboxStore := pgstore.NewOutboxStore(db)
		store = pgstore.NewEventStore(db, outboxStore)
		snapshots = pgstore.NewSnapshotStore(db)

		userViews := viewRepository.NewUserViewRepository(db)
		if err := userViews.CreateTable(ctx); err != nil {
			return nil, err
		}
		read = readSide{views: userViews, idempotency: pgstore.NewIdempotencyStore(db), transactor: db}

		if broker, err = newBroker(cfg, log); err != nil {
			return nil, err
		}
		app.onClose(broker.Close)

		// Start multiple relay workers for concurrency
		relayMetrics := metrics.NewRelayMetrics(reg)
		for range cfg.RelayWorkers {
			relay := outbox.NewRelay(outboxStore, broker, event.TopicFor, cfg.RelayBatchSize, cfg.RelayInterval,
				outbox.WithLogger(log), outbox.WithBatchObserver(relayMetrics.BatchPublished))
			relay.Start(ctx)
			app.onClose(relay.Stop)
		}
		log.Info("Outbox relays started", "workers", cfg.RelayWorkers)

	case config.StoreSQLite:
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		app.onClose(func() { _ = db.Close() })
		store = sqlitestore.NewEventStore(db)
		snapshots = sqlitestore.NewSnapshotStore(db)
		read = inMemoryReadSide()

	default:
		store = eventsrc.NewInMemoryStore(eventsrc.WithMemoryLogger(log))
		snapshots = eventsrc.NewInMemorySnapshotStore()
		read = inMemoryReadSide()
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		app.onClose(func() { _ = client.Close() })
		snapshots = redisstore.NewSnapshotStore(client)
		log.Info("Snapshots cached in redis", "addr", cfg.RedisAddr)
	}

	store = metrics.NewInstrumentedStore(store, storeMetrics)
	if broker == nil {
		// Without an outbox, events are pushed to subscribers right after the append.
		memBroker := msgbus.NewInMemoryBroker(log)
		app.onClose(memBroker.Close)
		broker = memBroker
		store = msgbus.NewPublishingStore(store, broker, event.TopicFor, log)
	}
	app.Store = store

	// --- Read side ---
	userProjection := projection.NewUserProjectionHandler(read.views)
	handle := projectionMetrics.Wrap(projection.UserProjectionName, userProjection.Handle)
	if read.rebuild {
		n, err := cqrs.Rebuild(ctx, store, handle, event.UserEventTypes...)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild user views: %w", err)
		}
		log.Info("User views rebuilt", "events", n)
	}

	userProjectionHandler := cqrs.NewProjection(
		projection.UserProjectionName,
		read.idempotency,
		read.views, // The user view repo satisfies the VersionedStore interface
		read.transactor,
		handle,
		cqrs.WithProjectionLogger(log),
		cqrs.WithCatchUp(store),
	)
	subCtx, cancelSub := context.WithCancel(ctx)
	app.onClose(cancelSub)
	if err := broker.Subscribe(subCtx, "users", projection.UserProjectionName, userProjectionHandler.Handle); err != nil {
		return nil, fmt.Errorf("failed to subscribe to topic users: %w", err)
	}

	app.Queries = cqrs.NewQueryBus()
	if err := query.NewUserQueries(read.views).Register(app.Queries); err != nil {
		return nil, err
	}

	// --- Write side ---
	repoOpts := domainRepository.Options{Snapshots: snapshots, SnapshotEvery: cfg.SnapshotEvery, Logger: log}
	app.Commands = cqrs.NewCommandBus(
		cqrs.WithMaxRetries(cfg.CommandMaxRetries),
		cqrs.WithRetryInterval(cfg.RetryInitialInterval),
		cqrs.WithObserver(commandMetrics),
		cqrs.WithCommandLogger(log),
	)
	if err := errors.Join(
		command.NewUserHandlers(domainRepository.NewUserRepository(store, repoOpts)).Register(app.Commands),
		command.NewAccountHandlers(domainRepository.NewAccountRepository(store, repoOpts)).Register(app.Commands),
	); err != nil {
		return nil, err
	}

	return app, nil
}

func inMemoryReadSide() readSide {
	return readSide{
		views:       viewRepository.NewMemoryUserViews(),
		idempotency: cqrs.NewInMemoryIdempotencyStore(),
		transactor:  cqrs.NoopTransactor{},
		rebuild:     true,
	}
}

func newBroker(cfg *config.Config, log *slog.Logger) (msgbus.Broker, error) {
	if cfg.NATSURL == "" {
		return msgbus.NewInMemoryBroker(log), nil
	}
	broker, err := natsbroker.NewNATSBroker(cfg.NATSURL, natsbroker.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("NATS connection established")
	return broker, nil
}
