// Package server - HTTP detection service.
package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/detector"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/history"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
)

// DefaultMaxUploadBytes bounds request bodies when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	// RequestTimeout bounds one detection. Zero relies on the client context only.
	RequestTimeout time.Duration
	// History records accepted detections when non-nil.
	History *history.Store
	// Pool is reported by /metrics when non-nil.
	Pool *inference.Pool
	// Logger is the base request logger. The standard logger is used when nil.
	Logger *log.Entry
}

// Server serves detection requests over HTTP.
type Server struct {
	detector *detector.Detector
	opts     Options
	router   *mux.Router
	log      *log.Entry
	started  time.Time

	requests    atomic.Int64
	found       atomic.Int64
	notFound    atomic.Int64
	badRequests atomic.Int64
	failures    atomic.Int64
}

// New creates a server and registers its routes.
func New(d *detector.Detector, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	s := &Server{
		detector: d,
		opts:     opts,
		router:   mux.NewRouter(),
		log:      logger,
		started:  time.Now(),
	}

	s.router.HandleFunc("/v1/detect", s.handleDetect).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Use(s.logRequests)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Handler:      s.router,
		Addr:         addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request served")
	})
}
