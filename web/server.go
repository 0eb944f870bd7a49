// ABOUTME: JSON HTTP API for the sales pipeline
// ABOUTME: chi router exposing dashboard, agenda, scheduling, outcomes and monitoring endpoints
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/metrics"
	"github.com/harperreed/funnel/pipeline"
	"github.com/harperreed/funnel/sync"
	"github.com/harperreed/funnel/telemetry"
)

type Server struct {
	pipeline   *pipeline.Service
	reconciler *sync.Reconciler
	funnel     *metrics.Aggregator
	monitor    *metrics.Monitor
	limiter    *RateLimiter
	logger     *log.Logger
}

type Option func(*Server)

func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimit limits each agent to rps requests per second; rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = NewRateLimiter(rps, burst, s.logger)
		}
	}
}

func NewServer(p *pipeline.Service, rec *sync.Reconciler, funnel *metrics.Aggregator, monitor *metrics.Monitor, opts ...Option) *Server {
	s := &Server{
		pipeline:   p,
		reconciler: rec,
		funnel:     funnel,
		monitor:    monitor,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Instrument(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAgent)
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/calendario", s.handleCalendar)
		r.Post("/registrar-reunion", s.handleRegisterMeeting)
		r.Post("/marcar-evento-completado", s.handleMarkEventCompleted)
		r.Patch("/mark-completed/{externalEventId}", s.handleMarkExternalCompleted)
		r.Post("/agendar-reunion", s.handleSchedule)
		r.Get("/disponibilidad", s.handleAvailability)
		r.Get("/monitoreo", s.handleMonitoring)

		r.Post("/clientes", s.handleCreateClient)
		r.Get("/clientes/{clientId}", s.handleGetClient)
		r.Patch("/clientes/{clientId}/etapa", s.handleChangeStage)
		r.Get("/clientes/{clientId}/actividades", s.handleTimeline)
		r.Post("/actividades", s.handleRecordActivity)
	})

	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down web server")
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrInvalidStage),
		errors.Is(err, pipeline.ErrInvalidActivityType),
		errors.Is(err, pipeline.ErrInvalidOutcome),
		errors.Is(err, pipeline.ErrInvalidInput),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrConflict),
		errors.Is(err, pipeline.ErrMeetingNotPending),
		errors.Is(err, credentials.ErrNotLinked):
		return http.StatusConflict
	case errors.Is(err, errUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, errBadRequest)
	}
	return nil
}
