// Package httpapi exposes the administrative HTTP surface: login, connector
// status, manual triggers and connector RPC dispatch.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
)

type Server struct {
	address           string
	sched             *scheduler.Manager
	adminPasswordHash []byte
	jwtSecret         []byte
	tokenValidity     time.Duration
	logger            logging.Logger
}

func NewServer(address string, sched *scheduler.Manager, adminPasswordHash, secretKey string, tokenValidity time.Duration, l logging.Logger) *Server {
	return &Server{
		address:           address,
		sched:             sched,
		adminPasswordHash: []byte(adminPasswordHash),
		jwtSecret:         []byte(secretKey),
		tokenValidity:     tokenValidity,
		logger:            l.With("module", "http_server"),
	}
}

// Router builds the chi route tree. Everything except login requires a valid
// bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/api/connectors", s.handleListConnectors)
		r.Post("/api/connectors/{id}/trigger", s.handleTrigger)
		r.Post("/api/connectors/{id}/rpc/{name}", s.handleRPC)
	})
	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.address, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
