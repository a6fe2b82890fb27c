package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0m3kk/eventlog/config"
	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/sample/command"
	"github.com/0m3kk/eventlog/sample/query/query"
	"github.com/0m3kk/eventlog/sample/query/view"
)

func main() {
	cfg, err := config.Load(os.Getenv("APP_CONFIG"))
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Create a context that we can cancel on shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := newApplication(ctx, cfg, reg, logger)
	if err != nil {
		slog.Error("Failed to start", "error", err, "store", cfg.Store)
		os.Exit(1)
	}
	defer app.Close()
	slog.Info("Service started", "store", cfg.Store)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	// --- Simulate Work (Full CQRS Loop) ---
	go simulate(ctx, app)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("Shutdown signal received. Exiting.")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
}

func simulate(ctx context.Context, app *application) {
	// In a real API, the ID might come from the request.
	userID := uuid.NewString()

	// 1. COMMAND: create a user.
	slog.Info("--> 1. Simulating CreateUser...", "userID", userID)
	if err := app.Commands.Dispatch(ctx, command.CreateUser{ID: userID, Name: "Ada", Email: "ada@example.com"}); err != nil {
		slog.Error("Failed to handle CreateUser", "error", err)
		return
	}

	// 2. QUERY: the read model is eventually consistent.
	if u, err := awaitUser(ctx, app.Queries, userID, 1); err == nil {
		slog.Info("<-- Query handled successfully. User Details:", "name", u.Name, "email", u.Email)
	}

	// 3. COMMAND: rename and change the email.
	for _, cmd := range []cqrs.Command{
		command.RenameUser{ID: userID, Name: "Ada Lovelace"},
		command.ChangeEmail{ID: userID, Email: "ada@lovelace.dev", Verified: true},
	} {
		if err := app.Commands.Dispatch(ctx, cmd); err != nil {
			slog.Error("Failed to handle command", "command", cmd.CommandName(), "error", err)
			return
		}
	}
	if u, err := awaitUser(ctx, app.Queries, userID, 3); err == nil {
		slog.Info("<-- Query handled successfully. User Details:", "name", u.Name, "email", u.Email, "verified", u.EmailVerified)
	}

	// 4. COMMAND: an account that refuses to be overdrawn.
	accountID := uuid.NewString()
	for _, cmd := range []cqrs.Command{
		command.OpenAccount{ID: accountID, Owner: userID},
		command.Deposit{ID: accountID, Amount: 100_00},
		command.Withdraw{ID: accountID, Amount: 250_00},
	} {
		err := app.Commands.Dispatch(ctx, cmd)
		if err == nil {
			slog.Info("<-- Command handled", "command", cmd.CommandName(), "accountID", accountID)
			continue
		}
		switch eventsrc.Classify(err) {
		case eventsrc.CategoryFixInput:
			slog.Info("<-- Command rejected", "command", cmd.CommandName(), "reason", err)
		case eventsrc.CategoryUnknown:
			slog.Error("Failed to handle command", "command", cmd.CommandName(), "error", err)
		default:
			slog.Warn("Command failed, try again later", "command", cmd.CommandName(), "error", err)
		}
	}
}

// awaitUser polls the read model until the user view reaches version.
func awaitUser(ctx context.Context, queries *cqrs.QueryBus, id string, version int64) (view.UserView, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		u, err := cqrs.Ask[view.UserView](ctx, queries, query.GetUserByID{ID: id})
		if err == nil && u.Version >= version {
			return u, nil
		}
		select {
		case <-ctx.Done():
			slog.Warn("Read model did not catch up", "userID", id, "version", version)
			return view.UserView{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
