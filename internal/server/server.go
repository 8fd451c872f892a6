package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"panoramer/internal/config"
	"panoramer/internal/pipeline"
	"panoramer/internal/storage"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes uploads, stitching jobs and their artifacts over HTTP.
type Server struct {
	cfg      *config.Config
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer wires the HTTP API around an existing pipeline and store.
func NewServer(cfg *config.Config, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		pipeline: pipe,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s
}

// Handler returns the routed API with CORS, metrics and panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(prometheusMiddleware)
	s.setupRoutes(r)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError)),
	)
	return handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins(s.cfg.Server.AllowedOrigins),
	)(recovery(r))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.cfg.Server.HTTPAddr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("GET")
	r.HandleFunc("/upload", s.handleUpload).Methods("POST")
	r.HandleFunc("/stitch", s.handleStitch).Methods("GET")
	r.HandleFunc("/stitch-opencv", s.handleStitch).Methods("GET")
	r.HandleFunc("/generate-panorama", s.handleGenerate).Methods("GET")
	r.HandleFunc("/clear-uploads", s.handleClearUploads).Methods("DELETE")
	r.HandleFunc("/serve-files/{filename:.+}", s.handleServeFile).Methods("GET")
	r.HandleFunc("/serve-all-files", s.handleServeAllFiles).Methods("GET")
	r.HandleFunc("/uploads", s.handleUploads).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.Server.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"message": msg})
}
