// Package server exposes the admin HTTP API: starting runs, polling
// progress, and listing persisted matches.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
	"stockscout/internal/ratelimit"
	"stockscout/internal/scan"
)

// Server routes admin API requests to the orchestrators and registry.
type Server struct {
	registry      scan.Registry
	orchestrators map[model.ScannerID]*scan.Orchestrator
	gov           *ratelimit.Governor
}

// New creates the API server.
func New(registry scan.Registry, orchestrators map[model.ScannerID]*scan.Orchestrator, gov *ratelimit.Governor) *Server {
	return &Server{registry: registry, orchestrators: orchestrators, gov: gov}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/runs/{scanner}", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/progress", s.handleProgress)
	})
	r.Get("/api/matches/{scanner}", s.handleMatches)
	return r
}

// requestLogger logs each request with method, path, status and
// latency, skipping the high-frequency poll endpoints at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		evt := log.Info()
		if r.URL.Path == "/api/health" {
			evt = log.Debug()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) scannerFrom(r *http.Request) (model.ScannerID, bool) {
	id := model.ScannerID(chi.URLParam(r, "scanner"))
	return id, id.Valid()
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scannerFrom(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scanner")
		return
	}
	o := s.orchestrators[id]
	if o == nil {
		writeError(w, http.StatusNotFound, "scanner not configured")
		return
	}

	run, err := o.Begin(r.Context())
	switch {
	case errors.Is(err, scan.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	case err != nil:
		log.Error().Err(err).Str("scanner", string(id)).Msg("start run")
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}

	// The run outlives this request; detach it from the request context.
	go o.Execute(context.Background(), run)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  run.ID,
		"scanner": id,
		"status":  run.Status,
	})
}

// progressResponse is the polling shape the UI consumes.
type progressResponse struct {
	Running         bool       `json:"running"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Markets         []string   `json:"markets,omitempty"`
	CandidatesFound int        `json:"candidates_found"`
	Enriched        int        `json:"enriched"`
	Matched         int        `json:"matched"`
	Inserted        int        `json:"inserted"`
	PrimaryCalls    int        `json:"primary_calls"`
	SecondaryCalls  int        `json:"secondary_calls"`
	Errors          []string   `json:"errors"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scannerFrom(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scanner")
		return
	}

	run, err := s.registry.LatestRun(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("scanner", string(id)).Msg("read progress")
		writeError(w, http.StatusInternalServerError, "could not read progress")
		return
	}
	if run == nil {
		writeJSON(w, http.StatusOK, progressResponse{Status: "idle", Errors: []string{}})
		return
	}

	resp := progressResponse{
		Running:         !run.Status.Terminal(),
		Status:          string(run.Status),
		StartedAt:       &run.StartedAt,
		FinishedAt:      run.FinishedAt,
		Markets:         run.Markets,
		CandidatesFound: run.CandidatesFound,
		Enriched:        run.Enriched,
		Matched:         run.Matched,
		Inserted:        run.Inserted,
		PrimaryCalls:    run.PrimaryCalls,
		SecondaryCalls:  run.SecondaryCalls,
		Errors:          run.Errors,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scannerFrom(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scanner")
		return
	}

	matches, err := s.registry.Matches(r.Context(), id, 100)
	if err != nil {
		log.Error().Err(err).Str("scanner", string(id)).Msg("list matches")
		writeError(w, http.StatusInternalServerError, "could not list matches")
		return
	}
	if matches == nil {
		matches = []scan.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"primary_remaining":   s.gov.Remaining(ratelimit.Primary),
		"secondary_remaining": s.gov.Remaining(ratelimit.Secondary),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
