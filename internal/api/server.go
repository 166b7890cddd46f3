package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/monitor"
)

// StatusProvider exposes the live state of a canary run.
type StatusProvider interface {
	RunID() string
	Snapshot() monitor.Status
	History() []models.AnalysisResult
	RunSettings() models.RunConfig
}

// Server serves run status over HTTP while a monitoring run is active.
type Server struct {
	provider   StatusProvider
	logger     *zap.Logger
	httpServer *http.Server
	wg         sync.WaitGroup
}

// Config configures the status server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Provider     StatusProvider
	Logger       *zap.Logger
}

// NewServer creates a status server. Provider is required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("status provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		provider: cfg.Provider,
		logger:   cfg.Logger,
	}

	router := mux.NewRouter()
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/run", s.runHandler).Methods("GET")
	v1.HandleFunc("/run/history", s.historyHandler).Methods("GET")
	v1.HandleFunc("/run/settings", s.settingsHandler).Methods("GET")
}

// Handler returns the configured HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("starting status server", zap.String("addr", s.httpServer.Addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.wg.Wait()
	return err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "canary-release-guard",
	})
}

// runHandler handles GET /api/v1/run
func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Snapshot())
}

// historyHandler handles GET /api/v1/run/history
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	history := s.provider.History()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   s.provider.RunID(),
		"analyses": history,
		"count":    len(history),
	})
}

// settingsHandler handles GET /api/v1/run/settings
func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.RunSettings())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
