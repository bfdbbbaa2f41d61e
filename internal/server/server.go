// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which backend serves each concern (database, content store, queue)
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server and the reconciler start and stop
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger and calls New, which builds:
//
//	sqlstore.DB ─┬─────────────────────────────▶ SnippetService ─▶ SnippetHandler
//	content.Store ┘                                    ▲
//	queue.Queue ──▶ DispatchService ───────────────────┘
//	queue.Queue ──▶ Reconciler ─────────────────────────────────▶ SnippetHandler (update/status)
//	auth.Directory ─▶ UserService ─▶ UserHandler
//
// This is the "composition root" pattern: all dependencies are wired in
// one place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/snippet-manager/internal/auth"
	"github.com/sakif/snippet-manager/internal/config"
	"github.com/sakif/snippet-manager/internal/content"
	"github.com/sakif/snippet-manager/internal/content/asset"
	"github.com/sakif/snippet-manager/internal/content/objectstore"
	"github.com/sakif/snippet-manager/internal/handler"
	"github.com/sakif/snippet-manager/internal/metrics"
	"github.com/sakif/snippet-manager/internal/middleware"
	"github.com/sakif/snippet-manager/internal/queue"
	"github.com/sakif/snippet-manager/internal/queue/memq"
	"github.com/sakif/snippet-manager/internal/queue/redisq"
	"github.com/sakif/snippet-manager/internal/reconciler"
	"github.com/sakif/snippet-manager/internal/repository/sqlstore"
	"github.com/sakif/snippet-manager/internal/service"
)

const (
	shutdownTimeout     = 30 * time.Second
	queueConnectTimeout = 30 * time.Second
)

// Server owns every long-lived resource and closes them on shutdown.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	router     http.Handler
	db         *sqlstore.DB
	queue      queue.Queue
	reconciler *reconciler.Reconciler
}

// Deps are the collaborators the router needs. Tests build them directly.
type Deps struct {
	Tokens     *auth.TokenService
	Snippets   *service.SnippetService
	Users      *service.UserService // nil disables /user/get
	Reconciler *reconciler.Reconciler
	Health     map[string]handler.Pinger
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// New opens the backends chosen in cfg and wires the application.
//
// Resources opened before a failure are closed again, so a failed New
// leaves nothing behind.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	// === DATABASE ===
	db, err := sqlstore.New(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	closers = append(closers, db.Close)

	// === CONTENT STORE ===
	var store content.Store
	switch cfg.ContentBackend {
	case config.ContentS3:
		store, err = objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Timeout:   cfg.ContentTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to object store: %w", err)
		}
	default:
		store = asset.New(cfg.BucketURL, cfg.ContentTimeout, logger)
	}

	// === QUEUE ===
	var q queue.Queue
	switch cfg.QueueBackend {
	case config.QueueMemory:
		logger.Warn("using in-memory queue; jobs are not visible to external workers")
		q = memq.New()
	default:
		q, err = redisq.ConnectWithRetry(ctx, redisq.Config{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		}, queueConnectTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to queue: %w", err)
		}
	}
	closers = append(closers, q.Close)

	// === AUTH ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}

	// === SERVICES ===
	m := metrics.New("snippet-manager")
	dispatcher := service.NewDispatchService(db, q, service.QueueNames{
		SCA:       cfg.QueueSCA,
		Format:    cfg.QueueFormat,
		SCASingle: cfg.QueueSCASingle,
	}, m, logger)
	snippets := service.NewSnippetService(db, store, dispatcher, logger)

	var users *service.UserService
	if cfg.DirectoryEnabled() {
		users = service.NewUserService(auth.NewDirectory(auth.DirectoryConfig{
			BaseURL:      cfg.AuthServerURI,
			ClientID:     cfg.AuthClientID,
			ClientSecret: cfg.AuthClientSecret,
			Audience:     cfg.AuthAudience,
		}), logger)
	} else {
		logger.Warn("AUTH_SERVER_URI not set; /user/get is disabled")
	}

	rec := reconciler.New(db, q, reconciler.Config{
		Queue:       cfg.QueueStatus,
		PollTimeout: cfg.ReconcilerPollTimeout,
		Batch:       cfg.ReconcilerBatch,
	}, m, logger)

	router := NewRouter(Deps{
		Tokens:     tokens,
		Snippets:   snippets,
		Users:      users,
		Reconciler: rec,
		Health:     map[string]handler.Pinger{"database": db, "queue": q},
		Metrics:    m,
		Logger:     logger,
	})

	return &Server{
		config:     cfg,
		logger:     logger,
		router:     router,
		db:         db,
		queue:      q,
		reconciler: rec,
	}, nil
}

// NewRouter configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                                → dependency health
// GET    /metrics                                → Prometheus metrics
// POST   /snippetManager/create                  → create snippet
// POST   /snippetManager/edit/{id}               → replace code
// POST   /snippetManager/search?page=&size=      → filtered, paged listing
// GET    /snippetManager/get/{id}                → one snippet with code
// POST   /snippetManager/share/{id}?shareEmail=  → grant read access
// DELETE /snippetManager/delete/{id}             → delete / drop own access
// GET    /snippetManager/fileTypes               → language → extension
// PUT    /snippetManager/pending/user/sca        → reset statuses, queue analysis
// PUT    /snippetManager/pending/user/format     → reset statuses, queue formatting
// PUT    /snippetManager/update/status           → apply a verdict
// POST   /snippetManager/analyze/{id}            → re-analyse one snippet
// GET    /user/get?page=&size=&name=             → share targets
//
// MIDDLEWARE ORDER MATTERS:
// 1. RealIP: extracts real client IP from proxy headers
// 2. Recoverer: catches panics and returns 500 instead of crashing
// 3. Correlation: assigns or propagates X-Correlation-Id
// 4. Logger: logs each request with its correlation ID, records metrics
// Everything except /healthz and /metrics also runs RequireAuth.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Correlation)
	r.Use(middleware.Logger(d.Logger, d.Metrics))

	health := handler.NewHealthHandler(d.Health, d.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Handle("/metrics", d.Metrics.Handler())

	snippets := handler.NewSnippetHandler(d.Snippets, d.Reconciler, d.Logger)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Tokens))

		r.Route("/snippetManager", func(r chi.Router) {
			r.Post("/create", snippets.HandleCreate)
			r.Post("/edit/{id}", snippets.HandleEdit)
			r.Post("/search", snippets.HandleSearch)
			r.Get("/get/{id}", snippets.HandleGet)
			r.Post("/share/{id}", snippets.HandleShare)
			r.Delete("/delete/{id}", snippets.HandleDelete)
			r.Get("/fileTypes", snippets.HandleFileTypes)
			r.Put("/pending/user/sca", snippets.HandlePendingSCA)
			r.Put("/pending/user/format", snippets.HandlePendingFormat)
			r.Put("/update/status", snippets.HandleUpdateStatus)
			r.Post("/analyze/{id}", snippets.HandleAnalyze)
		})

		if d.Users != nil {
			users := handler.NewUserHandler(d.Users, d.Logger)
			r.Get("/user/get", users.HandleList)
		}
	})

	return r
}

// Handler exposes the router (used by tests and embedding servers).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the reconciler and the HTTP server until SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN, IN ORDER:
//  1. Stop accepting HTTP connections; in-flight requests get 30s
//  2. Stop the reconciler (cancels the blocking receive, waits for the
//     message being applied)
//  3. Close the queue connection
//  4. Close the database
func (s *Server) Start() error {
	defer s.db.Close()
	defer s.queue.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.reconciler.Start(context.Background())
	defer s.reconciler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("db_driver", s.config.DBDriver),
			slog.String("content_backend", s.config.ContentBackend),
			slog.String("queue_backend", s.config.QueueBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
