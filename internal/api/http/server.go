package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"remotestream/internal/domain"
	"remotestream/internal/usecase"
)

type RegisterSourceUseCase interface {
	Execute(ctx context.Context, input usecase.RegisterSourceInput) (domain.SourceRecord, error)
}

type GetSourceUseCase interface {
	Execute(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error)
}

type ListSourcesUseCase interface {
	Execute(ctx context.Context, filter domain.SourceFilter) ([]domain.SourceRecord, error)
}

type DeleteSourceUseCase interface {
	Execute(ctx context.Context, id domain.SourceID) error
}

type OpenStreamUseCase interface {
	Execute(ctx context.Context, id domain.SourceID) (usecase.StreamResult, error)
}

type SourceRefresher interface {
	RefreshOne(ctx context.Context, id domain.SourceID) (domain.SourceRecord, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	registerSource RegisterSourceUseCase
	getSource      GetSourceUseCase
	listSources    ListSourcesUseCase
	deleteSource   DeleteSourceUseCase
	openStream     OpenStreamUseCase
	refresher      SourceRefresher
	healthCheck    HealthCheck
	metricsHandler http.Handler
	allowedOrigins []string
	rateLimitRPS   float64
	rateLimitBurst int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithGetSource(uc GetSourceUseCase) ServerOption {
	return func(s *Server) {
		s.getSource = uc
	}
}

func WithListSources(uc ListSourcesUseCase) ServerOption {
	return func(s *Server) {
		s.listSources = uc
	}
}

func WithDeleteSource(uc DeleteSourceUseCase) ServerOption {
	return func(s *Server) {
		s.deleteSource = uc
	}
}

func WithOpenStream(uc OpenStreamUseCase) ServerOption {
	return func(s *Server) {
		s.openStream = uc
	}
}

func WithRefresher(r SourceRefresher) ServerOption {
	return func(s *Server) {
		s.refresher = r
	}
}

func WithHealthCheck(check HealthCheck) ServerOption {
	return func(s *Server) {
		s.healthCheck = check
	}
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(register RegisterSourceUseCase, opts ...ServerOption) *Server {
	s := &Server{
		registerSource: register,
		rateLimitRPS:   100,
		rateLimitBurst: 200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/sources/", s.handleSourceByID)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "remotestream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.healthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// BroadcastSource pushes a source record to all WebSocket clients.
func (s *Server) BroadcastSource(record domain.SourceRecord) {
	if s.wsHub != nil {
		s.wsHub.Broadcast("source", record)
	}
}

func (s *Server) broadcastSourceDeleted(id domain.SourceID) {
	if s.wsHub != nil {
		s.wsHub.Broadcast("source_deleted", map[string]domain.SourceID{"id": id})
	}
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
