package httpserver

import (
	"context"
	"log"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/events"
	"github.com/relaywing/relaywing/internal/ledger"
	"github.com/relaywing/relaywing/internal/metrics"
	"github.com/relaywing/relaywing/internal/ratelimit"
	"github.com/relaywing/relaywing/internal/stream"
)

// Engine is the request loop behind the HTTP surface. The orchestrator
// implements it; tests substitute scripted fakes.
type Engine interface {
	Complete(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error)
	Stream(ctx context.Context, req *claude.MessagesRequest, w *stream.Writer) error
}

// Server exposes the gateway's REST endpoints: the messages API for clients
// and the admin API for usage and metrics.
type Server struct {
	engine    Engine
	bridge    *bridge.Bridge
	ledger    ledger.Store
	metrics   *metrics.Collector
	events    *events.Dispatcher
	rateLimit *ratelimit.Middleware
	logger    *log.Logger
}

// Config wires the Server's collaborators. Ledger, metrics, events, and rate
// limiting are optional; nil disables the concern.
type Config struct {
	Engine    Engine
	Bridge    *bridge.Bridge
	Ledger    ledger.Store
	Metrics   *metrics.Collector
	Events    *events.Dispatcher
	RateLimit *ratelimit.Middleware
	Logger    *log.Logger
}

// New constructs a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine:    cfg.Engine,
		bridge:    cfg.Bridge,
		ledger:    cfg.Ledger,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		rateLimit: cfg.RateLimit,
		logger:    logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HandleHealth)

	r.Group(func(r chi.Router) {
		if s.rateLimit != nil {
			r.Use(s.rateLimit.Wrap)
		}
		r.Post("/v1/messages", s.HandleMessages)
		r.Post("/v1/messages/count_tokens", s.HandleCountTokens)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/usage", s.HandleUsage)
		r.Get("/usage/models", s.HandleUsageByModel)
		r.Get("/usage/recent", s.HandleUsageRecent)
		r.Get("/metrics", s.HandleMetrics)
		r.Get("/metrics/prometheus", s.HandleMetricsPrometheus)
	})

	return r
}
