package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/monitor"
	"github.com/banshee-data/crossing/internal/traffic"
	"github.com/banshee-data/crossing/internal/units"
)

// simulationResponse is the state of one simulation with lane speeds in
// Units. Summary speeds stay in km/h as their names say.
type simulationResponse struct {
	ID        string                   `json:"id"`
	CreatedAt time.Time                `json:"created_at"`
	Units     string                   `json:"units"`
	Config    *config.SimulationConfig `json:"config"`
	crossing.State
}

func newSimulationResponse(info crossing.Info, unit string) simulationResponse {
	return simulationResponse{
		ID:        info.ID,
		CreatedAt: info.CreatedAt,
		Units:     unit,
		Config:    info.Config,
		State:     info.State.InUnits(unit),
	}
}

// handleSimulations handles GET/POST /api/simulations
func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.manager.List())
	case http.MethodPost:
		s.createSimulation(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createSimulation(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes+1))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(data) > maxConfigBytes {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, "Config too large")
		return
	}

	// An empty body starts a simulation with the defaults.
	cfg := config.EmptySimulationConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		cfg, err = config.ParseSimulationConfig(data)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := s.manager.Create(r.Context(), cfg)
	switch {
	case errors.Is(err, traffic.ErrInvalidConfig):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, crossing.ErrClosed):
		s.writeJSONError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	case err != nil:
		log.Printf("Error creating simulation: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to create simulation")
		return
	}

	info, err := s.manager.Info(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to read simulation")
		return
	}
	w.Header().Set("Location", "/api/simulations/"+id)
	s.writeJSON(w, http.StatusCreated, info)
}

// handleSimulationByID handles /api/simulations/:id and its chart and
// plot.png views.
func (s *Server) handleSimulationByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/simulations/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing simulation ID")
		return
	}
	if len(pathParts) > 2 {
		s.writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	id := pathParts[0]
	view := ""
	if len(pathParts) == 2 {
		view = pathParts[1]
	}

	switch {
	case view == "" && r.Method == http.MethodGet:
		s.showSimulation(w, r, id)
	case view == "" && r.Method == http.MethodDelete:
		s.deleteSimulation(w, r, id)
	case view == "chart" && r.Method == http.MethodGet:
		s.showChart(w, r, id)
	case view == "plot.png" && r.Method == http.MethodGet:
		s.showPlot(w, r, id)
	case view != "" && view != "chart" && view != "plot.png":
		s.writeJSONError(w, http.StatusNotFound, "Not found")
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// lookup resolves the simulation and the units to render it in, writing
// the error response itself when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (crossing.Info, string, bool) {
	info, err := s.manager.Info(id)
	if errors.Is(err, crossing.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Simulation not found")
		return crossing.Info{}, "", false
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to read simulation")
		return crossing.Info{}, "", false
	}
	unit, ok := s.resolveUnits(r, info)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid 'units' parameter: must be one of %s", units.GetValidUnitsString()))
		return crossing.Info{}, "", false
	}
	return info, unit, true
}

func (s *Server) showSimulation(w http.ResponseWriter, r *http.Request, id string) {
	info, unit, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newSimulationResponse(info, unit))
}

func (s *Server) deleteSimulation(w http.ResponseWriter, r *http.Request, id string) {
	err := s.manager.Delete(r.Context(), id)
	if errors.Is(err, crossing.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Simulation not found")
		return
	}
	if err != nil {
		log.Printf("Error deleting simulation %s: %v", id, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to delete simulation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request, id string) {
	info, unit, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := monitor.LaneChart(&buf, "Simulation "+id, info.State, unit); err != nil {
		log.Printf("Error rendering chart for %s: %v", id, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request, id string) {
	info, unit, ok := s.lookup(w, r, id)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := monitor.LanePlot(&buf, info.State, unit); err != nil {
		log.Printf("Error rendering plot for %s: %v", id, err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to render plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
