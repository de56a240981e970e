// Package httpapi serves the public HTTP surface: the LINE webhook, the tenant
// registry admin routes, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
	"github.com/m3rciful/betbot/core/store"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Options wires the server to its collaborators.
type Options struct {
	Config *coreconfig.Config
	Store  store.Store
	// LineWebhook handles LINE platform callbacks; nil leaves the route unmounted.
	LineWebhook http.Handler
}

// Server is the HTTP entrypoint of the service.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	cfg        *coreconfig.Config
}

// New builds the router and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("httpapi: nil config")
	}
	if opts.Store == nil {
		return nil, errors.New("httpapi: nil store")
	}
	cfg := opts.Config

	s := &Server{router: mux.NewRouter(), cfg: cfg}
	s.setupRoutes(opts)

	readTimeout := time.Duration(cfg.HTTP.ReadTimeoutMS) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := time.Duration(cfg.HTTP.WriteTimeoutMS) * time.Millisecond
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Listen, strconv.Itoa(cfg.HTTP.Port)),
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes(opts Options) {
	s.router.Use(Recovery, RequestID, Logging, Metrics)

	s.router.HandleFunc("/healthz", healthHandler(opts.Store)).Methods(http.MethodGet)
	if s.cfg.HTTP.MetricsEnabled {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	if opts.LineWebhook != nil {
		s.router.Handle(s.cfg.Line.WebhookPath, opts.LineWebhook).Methods(http.MethodPost)
	}

	// Only the admin API is rate limited; every webhook delivery must be dispatched.
	admin := s.router.PathPrefix("/admin").Subrouter()
	if s.cfg.HTTP.RequestsPerSecond > 0 {
		admin.Use(NewRateLimiter(s.cfg.HTTP.RequestsPerSecond, s.cfg.HTTP.Burst).Limit)
	}
	admin.Use(AdminAuth(s.cfg.Admin.Token))
	h := &adminHandlers{store: opts.Store}
	admin.HandleFunc("/tenant", h.createTenant).Methods(http.MethodPost)
	admin.HandleFunc("/tenants", h.listTenants).Methods(http.MethodGet)
	admin.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.HTTP.InfoContext(ctx, "http server started",
			slog.String("event", "http.start"),
			slog.String("listen", s.httpServer.Addr),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpapi: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	start := time.Now()
	err := s.httpServer.Shutdown(shutdownCtx)
	logger.HTTP.InfoContext(shutdownCtx, "http server stopped",
		slog.String("event", "http.stop"),
		slog.Duration("duration", logger.Took(start)),
	)
	if err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return <-errCh
}

func healthHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			logger.HTTP.WarnContext(ctx, "health check failed",
				slog.String("event", "http.health"),
				slog.String("status", "fail"),
				slog.String("err", logger.ErrAttr(err)),
			)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	}
}
