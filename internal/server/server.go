// Package server assembles the tally HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/tally/internal/handlers"
	"github.com/rumor-ml/commons.systems/tally/internal/middleware"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

// LocalUser is the identity of every request when no token verifier is
// configured.
const LocalUser = "local"

const shutdownTimeout = 10 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Service *pipeline.Service
	Hub     *streaming.StreamHub
	// Verifier checks bearer tokens; nil serves every request as LocalUser.
	Verifier middleware.TokenVerifier
	// Sessions stores import sessions; nil keeps them in memory.
	Sessions       handlers.SessionStore
	AllowedOrigins []string
	// StaticDir, when set, is served at "/" for a bundled frontend.
	StaticDir string
	Logger    zerolog.Logger
}

// Server represents the tally API server
type Server struct {
	api     *handlers.API
	mux     *http.ServeMux
	handler http.Handler
	log     zerolog.Logger
}

// New creates a server instance
func New(opts Options, apiOpts ...handlers.Option) *Server {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = handlers.NewMemorySessions()
	}
	protect := middleware.StaticUser(LocalUser)
	if opts.Verifier != nil {
		protect = middleware.NewAuthMiddleware(opts.Verifier).RequireAuth
	}

	s := &Server{
		api: handlers.NewAPI(opts.Service, opts.Hub, sessions, apiOpts...),
		mux: http.NewServeMux(),
		log: opts.Logger,
	}
	s.api.Routes(s.mux, protect)
	if opts.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}

	s.handler = middleware.Logging(opts.Logger)(middleware.CORS(opts.AllowedOrigins)(s.mux))
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx ends, then shuts down and waits
// for background imports to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.api.Wait()
	s.log.Info().Msg("server stopped")
	return err
}
