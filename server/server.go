// Package server exposes the upload and query endpoints and the web page
// that drives them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/darianmavgo/claridad/client"
	"github.com/darianmavgo/claridad/page"
	"github.com/darianmavgo/claridad/store"
)

// Config holds configuration for the server.
type Config struct {
	Store  *store.Store
	Logger *slog.Logger

	MaxUploadBytes  int64
	MaxConnections  int
	CORSOrigins     []string
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration

	// PageSize is the number of result rows per page in the web UI.
	PageSize            int
	PreserveFailedQuery bool
	// PageAPI is the backend used by the web UI. Nil serves the page
	// flows in-process.
	PageAPI page.API
}

// Server is the claridad HTTP server.
type Server struct {
	cfg      Config
	store    *store.Store
	log      *slog.Logger
	limiter  *rateLimiter
	sessions *sessionStore
}

// New creates a server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = page.DefaultPageSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		store:   cfg.Store,
		log:     cfg.Logger,
		limiter: newRateLimiter(cfg.RateLimit),
	}
	api := cfg.PageAPI
	if api == nil {
		api = localAPI{s: s}
	}
	s.sessions = newSessionStore(func(alert page.Alerter) *page.Page {
		return page.New(api, alert, page.Options{
			PreserveFailedQuery: cfg.PreserveFailedQuery,
			Logger:              cfg.Logger,
		})
	})
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}),
	)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)

		r.Post(client.UploadPath, s.handleUpload)
		r.Post(client.UploadPath+"/", s.handleUpload)
		r.Post(client.QueryPath, s.handleQuery)
		r.Post(client.QueryPath+"/", s.handleQuery)

		r.Get("/", s.handleIndex)
		r.Post("/ui/upload", s.handleUIUpload)
		r.Post("/ui/query", s.handleUIQuery)
	})
	return r
}

// requestLogger logs one line per request and counts it by route.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, fmt.Sprint(status)).Inc()
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve listens on addr and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.log.Info("starting server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
