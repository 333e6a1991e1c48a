package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/logger"
	"codeberg.org/mutker/trophyctl/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Engine is the part of the engine the API serves
type Engine interface {
	Frame() aggregator.Frame
	Derive(name string) (float64, error)
	Metrics() []string
	Active() []alert.Alert
	Acknowledge(id string) (alert.Alert, error)
	State() command.State
	Modes() []command.Mode
	Apply(cmd command.Command) (command.StateDelta, error)
}

// History reads recorded readings
type History interface {
	History(ctx context.Context, sourceID string, limit int) ([]metrics.ReadingRecord, error)
}

// RequestObserver is told about every served request
type RequestObserver interface {
	ObserveRequest(method, route string, status int, took time.Duration)
}

type Handler struct {
	engine   Engine
	hub      *Hub
	history  History
	observer RequestObserver
	metrics  http.Handler
	log      logger.Logger
	upgrader websocket.Upgrader
}

type Option func(*Handler)

// WithHistory serves GET /history/{source}
func WithHistory(h History) Option {
	return func(a *Handler) {
		a.history = h
	}
}

// WithObserver records request counts and durations
func WithObserver(o RequestObserver) Option {
	return func(a *Handler) {
		a.observer = o
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(a *Handler) {
		a.metrics = h
	}
}

func NewHandler(engine Engine, hub *Hub, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		hub:    hub,
		log:    logger.For("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Router builds the HTTP routes
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.health)

	r.Get("/snapshot", h.snapshot)
	r.Get("/snapshot/{source}", h.reading)
	r.Get("/derived", h.derived)
	r.Get("/derived/{name}", h.derivedMetric)

	r.Get("/alerts", h.alerts)
	r.Post("/alerts/{id}/ack", h.acknowledge)

	r.Get("/state", h.state)
	r.Get("/modes", h.modes)
	r.Post("/commands", h.command)

	if h.history != nil {
		r.Get("/history/{source}", h.readingHistory)
	}
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Get("/ws", h.serveWS)

	return r
}

// UnmatchedRoute labels requests that match no registered route
const UnmatchedRoute = "unmatched"

// observe logs each request and reports it to the observer under its route
// pattern
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := UnmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)

		h.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", took).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")

		if h.observer != nil {
			h.observer.ObserveRequest(r.Method, route, status, took)
		}
	})
}
