// SPDX-License-Identifier: MIT
/*
Package server exposes the live spectrum and the runtime controls over HTTP.

Routes:

	GET  /healthz   liveness
	GET  /ws        websocket spectrum stream
	GET  /metrics   Prometheus exposition
	GET  /stats     pipeline counters as JSON
	GET  /settings  current gate threshold and smoothing settings
	PUT  /settings  partial update of the same document
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"spectra/internal/dsp"
	applog "spectra/internal/log"
)

// ThresholdControl is the gate knob, normally a *pipeline.Pipeline.
type ThresholdControl interface {
	SetVolumeThreshold(threshold float64)
	VolumeThreshold() float64
}

// SmoothingControl is a smoothing knob, normally a *display.Surface.
type SmoothingControl interface {
	SetSettings(settings dsp.Settings)
	Settings() dsp.Settings
}

// Config wires the server to the running engine. Nil handlers leave their
// route unmounted.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Gate           ThresholdControl
	Surfaces       []SmoothingControl
	Stream         http.Handler // websocket transport
	Metrics        http.Handler // promhttp handler
	Stats          func() any
}

// Server is the HTTP control plane.
type Server struct {
	cfg    Config
	router chi.Router
	srv    *http.Server

	mu       sync.Mutex // serialises settings updates
	listener net.Listener
	done     chan error
}

// New builds the router. Nothing listens until Start.
func New(cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	if cfg.Stream != nil {
		r.Handle("/ws", cfg.Stream)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Stats != nil {
		r.Get("/stats", s.stats)
	}
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.getSettings)
		r.Put("/", s.putSettings)
	})

	s.router = r
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	go func() {
		applog.Infof("Server: listening on %s", ln.Addr())
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked websocket connections are not tracked here; close the stream
// transport to drop them.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	if serveErr := <-s.done; serveErr != nil && err == nil {
		err = serveErr
	}
	s.done = nil
	applog.Infof("Server: stopped")
	return err
}

// requestLogger logs each request at debug level once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		applog.Debugf("Server: %s %s %d %dB %s [%s]",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}
