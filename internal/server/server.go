package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
	"github.com/raaihank/pii-redactor/internal/websocket"
)

const (
	serviceName    = "pii-redactor"
	serviceVersion = "0.1.0"
)

// RecordFinder looks up persisted redactions. *store.Store satisfies it.
type RecordFinder interface {
	FindByRecordID(ctx context.Context, recordID string) ([]store.RedactedRecord, error)
}

// Server exposes the detector over HTTP
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	detector  *privacy.Detector
	records   RecordFinder
	limiter   *RateLimiter
	wsHub     *websocket.Hub
	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a server. records may be nil when no store is configured.
func New(cfg *config.Config, log *logger.Logger, records RecordFinder) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		detector:  privacy.New(log.WithComponent("privacy")),
		records:   records,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(&websocket.HubConfig{
			BroadcastDetections:  cfg.WebSocket.BroadcastDetections,
			BroadcastRequests:    cfg.WebSocket.BroadcastRequests,
			BroadcastConnections: cfg.WebSocket.BroadcastConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			TrustProxyHeaders:    cfg.Server.TrustProxyHeaders,
		}, log.WithComponent("websocket").Logger)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	// Subrouters report a method mismatch as 404 unless they have their own handler.
	api.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)
	api.HandleFunc("/redact/batch", s.handleRedactBatch).Methods(http.MethodPost)
	api.HandleFunc("/records/{record_id}", s.handleRecords).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background workers and serves HTTP until Stop is called or ctx ends
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PII redaction server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("rate_limit", s.limiter != nil),
		zap.Bool("websocket", s.wsHub != nil),
		zap.Bool("record_lookup", s.records != nil),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII redaction server")
	return s.server.Shutdown(ctx)
}

// clientIP is the rate limit and event key for r
func (s *Server) clientIP(r *http.Request) string {
	return websocket.ClientIP(r, s.config.Server.TrustProxyHeaders)
}

// Detector returns the detector serving requests
func (s *Server) Detector() *privacy.Detector {
	return s.detector
}
