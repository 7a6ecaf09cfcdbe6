// Package api serves the host-facing HTTP surface: entity views, light
// control, the four registered commands and operational endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/commands"
	"github.com/dokzlo13/worldmapd/internal/coordinator"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/eventbus"
	"github.com/dokzlo13/worldmapd/internal/ledger"
	"github.com/dokzlo13/worldmapd/internal/mirror"
)

const maxBodyBytes = 64 << 10

// Coordinator is the snapshot side used by the API
type Coordinator interface {
	Snapshot() *coordinator.Snapshot
	LastError() error
	Refresh(ctx context.Context) error
}

// Lights accepts per-entity light intents
type Lights interface {
	TurnOn(ctx context.Context, id int, in dispatch.Intent) (dispatch.Result, error)
	TurnOff(ctx context.Context, id int) (dispatch.Result, error)
}

// Realtime reports the push channel status
type Realtime interface {
	Connected() bool
	URL() string
}

// Deps are the collaborators of the API. Ledger, Realtime and Bus may be nil.
type Deps struct {
	Mirrors     *mirror.Registry
	Coordinator Coordinator
	Lights      Lights
	Invoker     *commands.Invoker
	Ledger      *ledger.Ledger
	Realtime    Realtime
	Bus         *eventbus.Bus
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	deps       Deps
	version    string
	started    time.Time
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, deps Deps) *Server {
	return &Server{
		addr:    fmt.Sprintf("%s:%d", host, port),
		deps:    deps,
		version: versioninfo.Short(),
		started: time.Now(),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Post("/turn_on", s.handleTurnOn)
				r.Post("/turn_off", s.handleTurnOff)
			})
		})

		r.Get("/services", s.handleListServices)
		r.Post("/services/{name}", s.handleCallService)

		r.Post("/refresh", s.handleRefresh)
		r.Get("/ledger", s.handleLedger)
		r.Get("/realtime", s.handleRealtime)
	})

	return r
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Shutdown waits for in-flight requests; Run returns only after it does
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-shutdownDone
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r.Body = http.MaxBytesReader(ww, r.Body, maxBodyBytes)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
