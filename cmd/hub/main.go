// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Command hub runs the MCP gateway as a standalone process: it wires the
// Settings Store, Upstream Supervisor, Tool Catalog, optional Vector Index,
// Access Resolver, Downstream Session Manager, and Request Router into one
// gin-based HTTP surface and serves it until asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mcphub/hub/api"
	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/catalog"
	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/embeddings"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/metrics"
	"github.com/mcphub/hub/router"
	"github.com/mcphub/hub/session"
	"github.com/mcphub/hub/upstream"
)

// version is set by the release build; left at "dev" for local builds.
var version = "dev"

func main() {
	addr := flag.String("addr", ":8090", "address to serve the HTTP API on")
	settingsPath := flag.String("settings", "", "path to a JSON settings file (persisted across restarts); empty disables persistence")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres DSN for the vector index; required only when smart routing's embedding search is configured")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	idleSessionTimeout := flag.Duration("idle-session-timeout", 30*time.Minute, "downstream sessions idle longer than this are closed; 0 disables the sweep")
	installationID := flag.String("installation-id", "", "identifier for this hub instance, attached to every metrics series")
	anonymousAuth := flag.Bool("anonymous-auth", true, "authenticate every request as an admin principal named \"anonymous\"; disable for multi-principal deployments")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logging.NewSlog(os.Stdout, parseLevel(*logLevel))

	if err := run(ctx, log, runConfig{
		addr:               *addr,
		settingsPath:       *settingsPath,
		postgresDSN:        *postgresDSN,
		idleSessionTimeout: *idleSessionTimeout,
		installationID:     *installationID,
		anonymousAuth:      *anonymousAuth,
	}); err != nil {
		log.Error("hub exited with error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type runConfig struct {
	addr               string
	settingsPath       string
	postgresDSN        string
	idleSessionTimeout time.Duration
	installationID     string
	anonymousAuth      bool
}

// run is the composition root: it builds every collaborator in dependency
// order, starts their background loops, serves the HTTP surface, and tears
// everything down in reverse order once ctx is cancelled.
func run(ctx context.Context, log logging.LogService, cfg runConfig) error {
	var persister config.Persister = config.NoopPersister{}
	if cfg.settingsPath != "" {
		persister = config.NewJSONFilePersister(cfg.settingsPath)
	}
	store, err := config.LoadOrNew(persister, log)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	sup := upstream.NewSupervisor(store, log, http.DefaultClient)
	sup.Start()
	defer sup.Stop()

	cat := catalog.New(store, sup, log)
	cat.Start()
	defer cat.Stop()

	var idx *embeddings.Index
	flags := store.Snapshot().Flags
	if flags.SmartRoutingEnabled && flags.EmbeddingSearch.Provider.Type != "" {
		idx, err = buildIndex(cfg.postgresDSN, flags.EmbeddingSearch, log)
		if err != nil {
			return fmt.Errorf("build vector index: %w", err)
		}
	}

	if idx != nil {
		// Keep the Vector Index in step with the Tool Catalog (spec.md §4.C5
		// reconciliation): every version bump's diff drives the index's
		// upserts/deletes.
		reconciler := embeddings.NewReconciler(cat, idx, log)
		token := reconciler.Start(ctx)
		defer reconciler.Stop(token)
	}

	rt := router.New(store, sup, cat, idx, log)

	sessions := session.NewManager(log, cfg.idleSessionTimeout)
	sessions.Start()
	defer sessions.Stop()

	// Re-derive every open session's tool view whenever the catalog
	// publishes a new version (spec.md §4.C7: sessions notify their client
	// only when their own filtered view actually changed), coalescing bursts
	// of version bumps into a single refresh 100ms after the last one.
	refresh := newDebouncedRefresher(100*time.Millisecond, func() {
		sessions.RefreshAll(ctx, rt)
	})
	defer refresh.stop()
	cat.Subscribe(func(oldVersion, newVersion int, _ catalog.Diff) {
		refresh.trigger()
	})

	metricsService := metrics.New(metrics.InstanceInfo{InstallationID: cfg.installationID, Version: version})

	var authctx auth.AuthContext = auth.Anonymous{}
	if !cfg.anonymousAuth {
		authctx = auth.Static{Default: auth.Principal{ID: "anonymous"}}
	}

	a := api.New(store, sup, sessions, rt, authctx, metricsService, log)

	srv := &http.Server{
		Addr:    cfg.addr,
		Handler: a,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("hub listening", "addr", cfg.addr, "version", version)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}

	return nil
}

// debouncedRefresher coalesces a burst of calls to trigger into a single
// call to fn, fired window after the last trigger. There is no precedent
// for this in the examples retrieved for this build; time.AfterFunc is the
// standard library's own tool for exactly this job.
type debouncedRefresher struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncedRefresher(window time.Duration, fn func()) *debouncedRefresher {
	return &debouncedRefresher{window: window, fn: fn}
}

func (d *debouncedRefresher) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

func (d *debouncedRefresher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// buildIndex opens the Postgres connection the vector store needs and
// assembles the Embedder + VectorStore pair behind it.
func buildIndex(dsn string, cfg config.EmbeddingSearchConfig, log logging.LogService) (*embeddings.Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("smart routing's embedding search is configured but -postgres-dsn was not given")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return newIndex(db, http.DefaultClient, cfg, log)
}
