// Package server sets up the HTTP server, router, and all route definitions.
//
// It is the composition root: New builds every dependency from the config
// and wires them together, so no other package decides which store, mail
// gateway or allocator is in use.
//
// DEPENDENCY GRAPH:
//
//	config → store (sqlite | postgres) ← allocator (redis, optional)
//	       → TokenService
//	       → Gateway (smtp | log) → Dispatcher
//	store + tokens + dispatcher → AccountService → AccountHandler → routes
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/plausch/internal/auth"
	"github.com/sakif/plausch/internal/config"
	"github.com/sakif/plausch/internal/handler"
	"github.com/sakif/plausch/internal/middleware"
	"github.com/sakif/plausch/internal/notify"
	"github.com/sakif/plausch/internal/repository"
	"github.com/sakif/plausch/internal/repository/postgres"
	"github.com/sakif/plausch/internal/repository/redisseq"
	sqliteRepo "github.com/sakif/plausch/internal/repository/sqlite"
	"github.com/sakif/plausch/internal/service"
)

// Version is reported in logs; set at build time with -ldflags.
var Version = "dev"

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database handle, the Redis pool and the mail
// dispatcher. Close releases them in reverse order of creation.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	tokens     *auth.TokenService
	dispatcher *notify.Dispatcher
	closers    []func() error
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	gateway notify.Gateway
}

// WithGateway replaces the mail gateway chosen from config.
func WithGateway(g notify.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// New creates a Server from cfg. The mail dispatcher is running when New
// returns; call Close (or Start, which closes on exit) to stop it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *Server, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// === TOKENS ===
	s.tokens, err = auth.NewTokenService(auth.TokenConfig{
		Secret:          cfg.Tokens.Secret,
		Issuer:          cfg.Tokens.Issuer,
		ConfirmationTTL: cfg.Tokens.ConfirmationTTL,
		SessionTTL:      cfg.Tokens.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === STORE ===
	accounts, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}

	// === MAIL ===
	gateway := o.gateway
	if gateway == nil {
		gateway, err = s.newGateway()
		if err != nil {
			return nil, err
		}
	}
	s.dispatcher = notify.NewDispatcher(gateway, notify.DispatcherConfig{
		Workers:   cfg.Mail.Workers,
		QueueSize: cfg.Mail.QueueSize,
		Timeout:   cfg.Mail.Timeout,
	}, logger)
	s.dispatcher.Start()
	s.closers = append(s.closers, func() error {
		s.dispatcher.Stop()
		return nil
	})

	accountService := service.NewAccountService(accounts, s.tokens, s.dispatcher, cfg.Mail.ConfirmURL, logger)
	s.setupRoutes(handler.NewAccountHandler(accountService, logger))
	return s, nil
}

// openStore opens the configured credential store and, if Redis is
// configured, puts the Redis allocator in front of it.
func (s *Server) openStore(ctx context.Context) (repository.AccountRepository, error) {
	hasher := auth.NewPasswordService()

	var allocator *redisseq.Allocator
	if s.config.Redis.Addr != "" {
		allocator = redisseq.New(s.config.Redis.Addr)
		s.closers = append(s.closers, allocator.Close)
		if err := allocator.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", s.config.Redis.Addr, err)
		}
	}

	var store repository.AccountRepository
	switch s.config.Database.Driver {
	case config.DriverPostgres:
		if err := migratePostgres(s.config.Database.DSN); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, s.config.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })

		var opts []postgres.Option
		if allocator != nil {
			opts = append(opts, postgres.WithAllocator(allocator))
		}
		store, err = postgres.New(pool, hasher, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}

	default:
		var opts []sqliteRepo.Option
		if allocator != nil {
			opts = append(opts, sqliteRepo.WithAllocator(allocator))
		}
		db, err := sqliteRepo.New(s.config.Database.Path, hasher, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		store = db
	}

	if allocator != nil {
		maxID, err := store.MaxID(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading highest account id: %w", err)
		}
		current, err := allocator.EnsureAtLeast(ctx, maxID)
		if err != nil {
			return nil, fmt.Errorf("seeding redis account sequence: %w", err)
		}
		s.logger.Info("using redis account id allocator",
			slog.String("addr", s.config.Redis.Addr),
			slog.Int64("sequence", current),
		)
	}
	return store, nil
}

func migratePostgres(dsn string) error {
	m, err := postgres.NewMigrator(dsn)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// newGateway picks SMTP when a relay host is configured and the log
// gateway otherwise.
func (s *Server) newGateway() (notify.Gateway, error) {
	mc := s.config.Mail
	if mc.Host == "" {
		s.logger.Warn("no smtp host configured, confirmation mails will only be logged")
		return notify.NewLogGateway(s.logger), nil
	}
	g, err := notify.NewSMTPGateway(notify.SMTPConfig{
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: mc.Password,
		From:     mc.From,
		Timeout:  mc.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating smtp gateway: %w", err)
	}
	return g, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /healthz                         → liveness probe
// GET  /metrics                         → Prometheus exposition
// POST /accounts                        → register
// POST /accounts/resend-confirmation    → resend confirmation mail
// PUT  /accounts/confirm-email          → confirm email, returns session token
// POST /accounts/login                  → session token
// GET  /accounts/me                     → own account (session required)
// GET  /accounts/{id}                   → account by id
//
// MIDDLEWARE ORDER MATTERS:
// RequestID must run before Logger so the log line carries the id, and
// CORS must answer preflight requests before any route is matched.
func (s *Server) setupRoutes(accounts *handler.AccountHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/accounts", func(r chi.Router) {
		r.Post("/", accounts.HandleRegister)
		r.Post("/resend-confirmation", accounts.HandleResendConfirmation)
		r.Put("/confirm-email", accounts.HandleConfirmEmail)
		r.Post("/login", accounts.HandleLogin)
		r.With(auth.RequireSession(s.tokens)).Get("/me", accounts.HandleMe)
		r.Get("/{id}", accounts.HandleGetByID)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the dispatcher and releases every resource New opened.
// Safe to call more than once.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the mail dispatcher, then close the database
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // a register request waits for the mail attempt
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("database", s.config.Database.Driver),
			slog.String("version", Version),
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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
