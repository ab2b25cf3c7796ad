package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/newsletter/internal/archive"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
)

// Runner executes one prompt.
type Runner interface {
	Run(ctx context.Context, prompt string, opts ...pipeline.RunOption) (pipeline.Outcome, error)
}

// Server exposes runs, run history and the article archive over HTTP.
type Server struct {
	echo       *echo.Echo
	runner     Runner
	store      runstore.Store
	archive    *archive.Index
	metrics    http.Handler
	secret     []byte
	runTimeout time.Duration
	logger     *log.Logger
	newID      func() string

	// ctx bounds background runs; cancel is called on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves run history from store.
func WithStore(store runstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithArchive enables article search.
func WithArchive(idx *archive.Index) Option {
	return func(s *Server) { s.archive = idx }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithJWTSecret protects /api with HS256 tokens.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithRunTimeout bounds background runs. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.runTimeout = d }
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(runner Runner, opts ...Option) *Server {
	s := &Server{runner: runner, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	api := e.Group("/api")
	if s.secret != nil {
		api.Use(authMiddleware(s.secret))
	}
	api.POST("/runs", s.createRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/archive", s.searchArchive)

	s.echo = e
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background runs and waits for
// them to record their results.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Wait blocks until all background runs finished.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}
