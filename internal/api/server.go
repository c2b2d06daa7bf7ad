// Package api serves the simulation gallery over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/db"
	"github.com/banshee-data/crossing/internal/units"
	"github.com/banshee-data/crossing/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxConfigBytes bounds POSTed configuration documents.
const maxConfigBytes = 1 << 20

type Server struct {
	manager *crossing.Manager
	db      *db.DB
	units   string
}

// NewServer serves the simulations of manager. db may be nil, in which case
// /api/summaries is unavailable. units is used for simulations whose config
// does not set output_units.
func NewServer(manager *crossing.Manager, db *db.DB, units string) *Server {
	return &Server{
		manager: manager,
		db:      db,
		units:   units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/simulations", s.handleSimulations)
	mux.HandleFunc("/api/simulations/", s.handleSimulationByID)
	mux.HandleFunc("/api/summaries", s.listSummaries)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// resolveUnits picks the units query parameter, then the simulation's
// configured units, then the server default.
func (s *Server) resolveUnits(r *http.Request, info crossing.Info) (string, bool) {
	if u := r.URL.Query().Get("units"); u != "" {
		return u, units.IsValid(u)
	}
	if info.Config != nil && info.Config.OutputUnits != nil {
		return info.Config.GetOutputUnits(), true
	}
	return s.units, units.IsValid(s.units)
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No database configured")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	summaries, err := s.db.Summaries(r.Context(), limit)
	if err != nil {
		log.Printf("Error fetching summaries: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve summaries")
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, version.Get())
}
