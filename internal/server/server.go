package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/cv-anonymiser/internal/audit"
	"github.com/raaihank/cv-anonymiser/internal/cache"
	"github.com/raaihank/cv-anonymiser/internal/config"
	"github.com/raaihank/cv-anonymiser/internal/logger"
	"github.com/raaihank/cv-anonymiser/internal/redact"
	"github.com/raaihank/cv-anonymiser/internal/rules"
	"github.com/raaihank/cv-anonymiser/internal/web"
	"github.com/raaihank/cv-anonymiser/internal/websocket"
	"go.uber.org/zap"
)

// Server is the HTTP front of the anonymiser. The redaction engine stays
// pure; everything with side effects (audit writes, caching, event
// broadcasts) happens here, after the engine returns.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	engine    *redact.Engine
	ruleStore *rules.Store
	recorder  audit.Recorder
	cache     *cache.ResultCache
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	limiter   *clientLimiter
	startedAt time.Time

	totalRequests   int64
	totalRedactions int64
}

// New creates a server. The initial rule set is compiled from the
// configuration; a validation failure here is fatal so the service never
// starts in a state where it would pass text through unredacted. The
// recorder must not be nil (use audit.NopRecorder{} to disable); cache may
// be nil.
func New(cfg *config.Config, log *logger.Logger, recorder audit.Recorder, resultCache *cache.ResultCache) (*Server, error) {
	ruleSet, err := rules.Compile(cfg.Redaction.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile redaction rules: %w", err)
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastRedactions:  cfg.WebSocket.Events.BroadcastRedactions,
		BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engine:    redact.New(cfg.Redaction.ScanTimeout),
		ruleStore: rules.NewStore(ruleSet),
		recorder:  recorder,
		cache:     resultCache,
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		limiter:   newClientLimiter(cfg.RateLimit),
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/anonymise", s.handleAnonymise).Methods("POST")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting CV anonymiser server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("rules", s.ruleStore.Current().Len()),
		zap.Bool("audit_enabled", s.config.Audit.Enabled),
		zap.Bool("cache_enabled", s.cache != nil),
	)

	go s.wsHub.Run()
	s.limiter.startCleanup()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping CV anonymiser server")
	return s.server.Shutdown(ctx)
}

// ApplyConfig swaps in the rule set from a freshly validated configuration.
// Used by the config watcher; a compile failure keeps the current rules so
// the service never degrades to weaker redaction mid-flight.
func (s *Server) ApplyConfig(cfg *config.Config) {
	ruleSet, err := rules.Compile(cfg.Redaction.Rules)
	if err != nil {
		s.logger.Error("Rejected rule reload", zap.Error(err))
		return
	}

	s.ruleStore.Swap(ruleSet)
	s.logger.Info("Redaction rules reloaded",
		zap.Int("rules", ruleSet.Len()),
		zap.Strings("categories", ruleSet.Categories()),
	)
}

// RuleStore exposes the rule snapshot holder, mainly for tests.
func (s *Server) RuleStore() *rules.Store {
	return s.ruleStore
}

// Handler returns the root HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

func (s *Server) countRequest() {
	atomic.AddInt64(&s.totalRequests, 1)
}

func (s *Server) countRedactions(n int) {
	atomic.AddInt64(&s.totalRedactions, int64(n))
}
