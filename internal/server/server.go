// Package server exposes the HTTP surface: the charge report, the OAuth
// authorization redirect and callback, and the partner public key. Handlers
// are thin glue over the session, history, and billing packages.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wallcharge/pkg/auth"
	"wallcharge/pkg/history"
	"wallcharge/pkg/session"
)

// Server handles one request at a time per user with no shared in-memory
// state; all coordination happens through the filesystem-backed stores.
type Server struct {
	Sessions *session.Manager
	Auth     *auth.Client
	Cache    *history.Cache
	// PublicKeyFile is served under the Tesla third-party well-known path.
	PublicKeyFile string
	// Now is injectable for deterministic date-range tests.
	Now func() time.Time

	logger *zap.Logger
}

func New(sessions *session.Manager, authClient *auth.Client, cache *history.Cache, logger *zap.Logger) *Server {
	return &Server{
		Sessions: sessions,
		Auth:     authClient,
		Cache:    cache,
		logger:   logger,
	}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Handler returns the route table wrapped in logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /{userKey}/{$}", s.handleReport)
	mux.HandleFunc("GET /{userKey}/{din}/{$}", s.handleReport)
	mux.HandleFunc("GET /auth/{$}", s.handleAuthStart)
	mux.HandleFunc("GET /oauth_return/{$}", s.handleAuthCallback)
	mux.HandleFunc("GET /.well-known/appspecific/com.tesla.3p.public-key.pem", s.handlePublicKey)
	return s.withLogging(mux)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
