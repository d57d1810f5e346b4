// Package server is the composition root: it turns a config.Config into a
// running HTTP server, wiring repositories, storage, services, handlers and
// middleware in one place.
//
// DEPENDENCY FLOW:
//
//	sqldb.DB ──────────┬─→ CredentialService ─┐
//	                   ├─→ SessionService ────┼─→ handlers ─→ chi router
//	storage.BlobStore ─┼─→ FileService ───────┤
//	qrcode.Renderer ───┴─→ QRService ─────────┘
//	                       Sweeper (background, hourly)
//
// Each layer receives interfaces, never the layer below's concrete types,
// except here.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/config"
	"github.com/sakif/bioqr/internal/handler"
	"github.com/sakif/bioqr/internal/middleware"
	"github.com/sakif/bioqr/internal/qrcode"
	"github.com/sakif/bioqr/internal/repository/sqldb"
	"github.com/sakif/bioqr/internal/service"
	"github.com/sakif/bioqr/internal/storage"
)

// Server owns every long-lived resource of the API process.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	router  *chi.Mux
	db      *sqldb.DB
	sweeper *service.Sweeper
	limiter *middleware.RateLimiter
	started time.Time
}

// New opens the database (running migrations), connects blob storage and
// builds the router. The caller must Close the server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: opening %s storage: %w", cfg.Storage.Type, err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
		db:      db,
		started: time.Now(),
		limiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RPS,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		sweeper: service.NewSweeper(db, db, cfg.Sweep.Interval, logger),
	}

	if err := s.setupRoutes(blobs); err != nil {
		s.Close()
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes builds the services and maps every endpoint.
//
// MIDDLEWARE ORDER:
//  1. RequestID: tags the request for every log line below
//  2. RealIP: rewrites RemoteAddr from X-Forwarded-For for the rate limiter
//  3. Logger: outermost of ours, so it also sees recovered panics as 500
//  4. Recover: turns panics into the generic 500 body
func (s *Server) setupRoutes(blobs storage.BlobStore) error {
	cfg := s.cfg

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Auth.JWTSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return err
	}
	passwords, err := auth.NewPasswordService(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	credentials := service.NewCredentialService(s.db, passwords, s.logger)
	sessions := service.NewSessionService(s.db, tokens, s.logger)
	files := service.NewFileService(s.db, blobs, cfg.Upload.MaxBytes, cfg.Storage.Timeout, s.logger)
	qr := service.NewQRService(s.db, s.db, files, qrcode.NewRenderer(cfg.QR.ImageSize), service.QRConfig{
		BaseURL:        cfg.Server.BaseURL,
		DefaultMinutes: cfg.QR.DefaultMinutes,
		MaxMinutes:     cfg.QR.MaxMinutes,
	}, s.logger)

	healthHandler := handler.NewHealthHandler(s.db, s.started, s.logger)
	authHandler := handler.NewAuthHandler(credentials, sessions, cfg.Auth.RevealLoginFailures, s.logger)
	oauthHandler := handler.NewOAuthHandler(
		s.oauthProviders(),
		credentials,
		sessions,
		cfg.Server.FrontendURL,
		strings.HasPrefix(cfg.Server.BaseURL, "https://"),
		s.logger,
	)
	fileHandler := handler.NewFileHandler(files, s.logger)
	qrHandler := handler.NewQRHandler(qr, s.logger)

	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recover(s.logger))

	r.Get("/health", healthHandler.HandleHealth)

	// OAuth handshakes are browser redirects, not JSON.
	r.Get("/auth/{provider}", oauthHandler.HandleBegin)
	r.Get("/auth/{provider}/callback", oauthHandler.HandleCallback)

	r.With(s.limiter.Handler).Get("/access-file/{token}", qrHandler.HandleRedeem)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(s.limiter.Handler).Post("/register", authHandler.HandleRegister)
			r.With(s.limiter.Handler).Post("/login", authHandler.HandleLogin)
			r.With(s.limiter.Handler).Post("/refresh", authHandler.HandleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))
				r.Post("/logout", authHandler.HandleLogout)
				r.Get("/me", authHandler.HandleMe)
				r.Get("/session", authHandler.HandleSession)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Post("/files", fileHandler.HandleUpload)
			r.Get("/files/{fileID}/download", fileHandler.HandleDownload)
			r.Delete("/files/{fileID}", fileHandler.HandleDelete)
			r.Get("/users/{userID}/files", fileHandler.HandleList)
			r.Post("/qr", qrHandler.HandleIssue)
		})
	})

	return nil
}

// oauthProviders returns the providers that have credentials configured.
func (s *Server) oauthProviders() []auth.Provider {
	var providers []auth.Provider
	for _, app := range []struct {
		name string
		cfg  config.OAuthApp
		new  func(auth.ProviderConfig) auth.Provider
	}{
		{auth.ProviderGoogle, s.cfg.OAuth.Google, auth.NewGoogleProvider},
		{auth.ProviderGitHub, s.cfg.OAuth.GitHub, auth.NewGitHubProvider},
	} {
		pc := auth.ProviderConfig{
			ClientID:     app.cfg.ClientID,
			ClientSecret: app.cfg.ClientSecret,
			CallbackURL:  app.cfg.CallbackURL,
			Timeout:      s.cfg.OAuth.Timeout,
		}
		if !pc.Enabled() {
			s.logger.Info("OAuth provider disabled, no credentials", slog.String("provider", app.name))
			continue
		}
		providers = append(providers, app.new(pc))
	}
	return providers
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP and runs the sweeper until ctx is cancelled, then shuts
// down gracefully: new connections are refused and in-flight requests get
// server.shutdown_timeout to finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.sweeper.Start()
	defer s.sweeper.Stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("baseURL", s.cfg.Server.BaseURL),
			slog.String("database", s.cfg.Database.Driver),
			slog.String("storage", s.cfg.Storage.Type),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

// Close releases the database and background goroutines. Safe after Start
// has returned.
func (s *Server) Close() error {
	s.sweeper.Stop()
	s.limiter.Stop()
	return s.db.Close()
}
