// Package server собирает relay: HTTP маршруты, middleware и протокол синхронизации
// поверх SQLite хранилища.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/protocol"
	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/middleware"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// Storage хранилище relay
type Storage interface {
	storage.OperationStorage
	storage.OwnerStorage
	handlers.Pinger
}

// countingAppender учитывает принятые операции в метриках
type countingAppender struct {
	storage.OperationStorage
}

func (a countingAppender) Append(ctx context.Context, op models.Operation) error {
	if err := a.OperationStorage.Append(ctx, op); err != nil {
		return err
	}
	metrics.MergedTotal.Inc()
	return nil
}

// Server relay
type Server struct {
	cfg        *config.ServerConfig
	logger     *slog.Logger
	limiter    *middleware.RateLimiter
	httpServer *http.Server
	handler    http.Handler
}

// New создает relay поверх хранилища
func New(cfg *config.ServerConfig, store Storage, logger *slog.Logger) *Server {
	trees := fingerprint.NewCache(store, cfg.Tree.Options())
	responder := protocol.NewResponder(store, protocol.AppendOnly(countingAppender{store}), trees, logger,
		protocol.WithMaxPushBytes(cfg.MaxPushBytes))

	syncHandler := handlers.NewSyncHandler(logger, responder, cfg.MaxBodyBytes)
	ownersHandler := handlers.NewOwnersHandler(logger, store)
	healthHandler := handlers.NewHealthHandler(logger, store)
	auth := middleware.AuthMiddleware(logger, store)

	mux := http.NewServeMux()
	mux.Handle("POST "+api.PathSync, auth(http.HandlerFunc(syncHandler.HandleSync)))
	mux.HandleFunc("POST "+api.PathOwners, ownersHandler.Register)
	mux.HandleFunc("GET "+api.PathHealth, healthHandler.Health)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	s := &Server{cfg: cfg, logger: logger}

	var handler http.Handler = mux
	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.LoggingMiddleware(logger, api.PathHealth, "/metrics")(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Handler возвращает корневой HTTP handler (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run обслуживает запросы до отмены ctx, затем корректно завершает соединения
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Relay listening", "address", s.cfg.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Relay shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close освобождает фоновые ресурсы middleware
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
