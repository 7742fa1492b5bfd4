package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/inspectiq/internal/adapter/fsm"
	otelAdapter "github.com/neomorfeo/inspectiq/internal/adapter/otel"
	riverAdapter "github.com/neomorfeo/inspectiq/internal/adapter/river"
	"github.com/neomorfeo/inspectiq/internal/adapter/sqlite"
	"github.com/neomorfeo/inspectiq/internal/app"
	"github.com/neomorfeo/inspectiq/internal/policy"

	handler "github.com/neomorfeo/inspectiq/internal/adapter/http"
)

const serviceName = "inspectiq"

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

// run wires the service and blocks until SIGINT or SIGTERM.
func run() error {
	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "inspectiq.db")

	logger := newLogger(envOrDefault("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Policy ---
	pol, err := policy.LoadFiles(os.Getenv("POLICY_TRANSITIONS_FILE"), os.Getenv("POLICY_ROUTES_FILE"))
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	// --- Telemetry ---
	providers, err := otelAdapter.Setup(ctx, otelAdapter.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otelAdapter.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store := sqlite.NewPermissionStore(db)

	if err := bootstrapRoles(ctx, store, os.Getenv("BOOTSTRAP_ROLES")); err != nil {
		return fmt.Errorf("bootstrap roles: %w", err)
	}

	client, err := riverAdapter.Setup(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			log.Printf("river stop: %v", err)
		}
	}()

	// Transition jobs are inserted in the same transaction as the state write.
	repo.SetOutbox(otelAdapter.NewTracingOutbox(riverAdapter.NewPublisher(client)))

	// --- Application ---
	svc := app.NewCaseService(
		otelAdapter.NewTracingRepository(repo),
		nil,
		fsm.New(pol.Table),
		pol,
	)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	api := humachi.New(router, huma.DefaultConfig(serviceName, "0.1.0"))
	handler.Register(api, svc, otelAdapter.NewTracingPermissionStore(store))

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("%s listening on :%s (%d rules, %d routes)", serviceName, port, len(pol.Table.Rules()), pol.Resolver.Len())
		log.Printf("API docs: http://localhost:%s/docs", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	log.Println("stopped")
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// roleAssigner is satisfied by *sqlite.PermissionStore.
type roleAssigner interface {
	AssignRole(ctx context.Context, actorID, role string) error
}

// bootstrapRoles applies assignments of the form "alice=planner,bob=supervisor".
func bootstrapRoles(ctx context.Context, store roleAssigner, assignments string) error {
	for _, pair := range strings.Split(assignments, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		actor, role, ok := strings.Cut(pair, "=")
		actor, role = strings.TrimSpace(actor), strings.TrimSpace(role)
		if !ok || actor == "" || role == "" {
			return fmt.Errorf("malformed assignment %q, want actor=role", pair)
		}
		if err := store.AssignRole(ctx, actor, role); err != nil {
			return err
		}
	}
	return nil
}
