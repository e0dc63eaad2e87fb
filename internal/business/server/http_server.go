package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/middleware/responsewriter"
	"github.com/openkcm/authcode-flow/internal/session"
	"github.com/openkcm/authcode-flow/pkg/fingerprint"
)

const readHeaderTimeout = 10 * time.Second

// newRouter registers the login routes and the protected example resource.
func newRouter(cfg *config.Config, sManager *session.Manager) (http.Handler, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}

	h := &handlers{
		sManager: sManager,
		pages:    p,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, responsewriter.Middleware, fingerprint.Middleware)

	r.With(newTraceMiddleware(cfg, "Home")).Get("/", h.home)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.With(newTraceMiddleware(cfg, "Login")).Get("/login", h.login)
		r.With(newTraceMiddleware(cfg, "Callback")).Get("/callback", h.callback)
		r.With(newTraceMiddleware(cfg, "Logout")).Post("/logout", h.logout)
		r.With(newTraceMiddleware(cfg, "Profile")).Get("/api/profile", h.profile)
	})

	return r, nil
}

// createHTTPServer creates the public http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, sManager *session.Manager) (*http.Server, error) {
	handler, err := newRouter(cfg, sManager)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}, nil
}

// StartHTTPServer serves the public API until ctx is cancelled.
func StartHTTPServer(ctx context.Context, cfg *config.Config, sManager *session.Manager) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server, err := createHTTPServer(ctx, cfg, sManager)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create the server")
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// The address may be given as network://address, e.g. unix:///tmp/authcode.sock.
	network := "tcp"
	if before, after, ok := strings.Cut(server.Addr, "://"); ok && before != "" && after != "" {
		network = before
		server.Addr = after
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
