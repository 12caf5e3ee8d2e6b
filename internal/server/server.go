package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/metrics"
	"github.com/yourorg/capgen/internal/pipeline"
	"github.com/yourorg/capgen/internal/report"
	"github.com/yourorg/capgen/internal/store"
	"github.com/yourorg/capgen/pkg/types"
)

// Server exposes the ledger, the check reports and the metrics registry read-only.
type Server struct {
	cfg       *config.Config
	store     store.Store
	artifacts artifact.Dir
	metrics   *metrics.Metrics
	logger    *slog.Logger
	router    chi.Router
}

// New constructs a Server with routes registered. m may be nil.
func New(cfg *config.Config, st store.Store, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:       cfg,
		store:     st,
		artifacts: artifact.Dir{Root: cfg.Data.OutputDir},
		metrics:   m,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(ar chi.Router) {
		ar.Get("/runs", s.handleRuns)
		ar.Get("/report", s.handleReport)
		ar.Get("/report.md", s.handleReportMarkdown)
	})

	// Raw artifacts.
	r.Handle("/artifacts/*", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.cfg.Data.OutputDir))))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.URL.Query().Get("stage"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key required")
		return
	}
	if strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid key")
		return
	}
	var rep pipeline.ToolReport
	if err := s.artifacts.ReadValue(artifact.Reports, key, &rep); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no report for "+key)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReportMarkdown(w http.ResponseWriter, r *http.Request) {
	reports, err := loadReports(s.artifacts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := report.Build(reports, nil).WriteMarkdown(w); err != nil {
		s.logger.Warn("write report", "error", err)
	}
}

func loadReports(dir artifact.Dir) ([]pipeline.ToolReport, error) {
	keys, err := dir.Keys(artifact.Reports)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.ToolReport, 0, len(keys))
	for _, k := range keys {
		var rep pipeline.ToolReport
		if err := dir.ReadValue(artifact.Reports, k, &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
