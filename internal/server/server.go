// Package server provides the flowpad HTTP tool API.
package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowpad-ai/flowpad/internal/config"
	"github.com/flowpad-ai/flowpad/internal/engine"
	"github.com/flowpad-ai/flowpad/internal/scratchpad"
)

// Server is the flowpad HTTP tool server. Every sandbox operation responds
// with a human-readable string per the soft-fail contract; only transport and
// registry plumbing use HTTP error codes.
type Server struct {
	config *config.Config
	engine *engine.Engine
	pad    *scratchpad.Dir
	router chi.Router
}

// New creates a Server around an already-provisioned engine.
func New(cfg *config.Config, eng *engine.Engine, pad *scratchpad.Dir) *Server {
	s := &Server{
		config: cfg,
		engine: eng,
		pad:    pad,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/commands", s.handleRunCommand)
		r.Post("/services", s.handleStartService)
		r.Post("/services/{id}/stop", s.handleStopService)
		r.Get("/services", s.handleListServices)
		r.Get("/services/{id}/events", s.handleServiceEvents)

		r.Get("/scripts", s.handleListScripts)
		r.Get("/scripts/{name}", s.handleGetScript)
		r.Put("/scripts/{name}", s.handlePutScript)
		r.Delete("/scripts/{name}", s.handleDeleteScript)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type runCommandRequest struct {
	Argv  []string `json:"argv"`
	Image string   `json:"image,omitempty"`
}

type runCommandResponse struct {
	Output string `json:"output"`
	OK     bool   `json:"ok"`
}

type startServiceRequest struct {
	Argv          []string `json:"argv"`
	MaxRetries    int      `json:"max_retries,omitempty"`
	RetryInterval string   `json:"retry_interval,omitempty"` // Go duration, e.g. "2s"
}

type serviceResponse struct {
	Message     string `json:"message"`
	ContainerID string `json:"container_id,omitempty"`
	OK          bool   `json:"ok"`
}

type putScriptRequest struct {
	Body string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Sandbox handlers ---

func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req runCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := s.engine.RunCommand(r.Context(), req.Argv, req.Image)
	writeJSON(w, http.StatusOK, runCommandResponse{Output: res.Message(), OK: res.OK()})
}

func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	var req startServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var interval time.Duration
	if req.RetryInterval != "" {
		d, err := time.ParseDuration(req.RetryInterval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid retry_interval")
			return
		}
		interval = d
	}

	res := s.engine.StartService(r.Context(), req.Argv, req.MaxRetries, interval)
	writeJSON(w, http.StatusOK, serviceResponse{
		Message:     res.Message(),
		ContainerID: res.ContainerID,
		OK:          res.OK(),
	})
}

func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := s.engine.StopService(r.Context(), id)
	writeJSON(w, http.StatusOK, serviceResponse{
		Message:     res.Message(),
		ContainerID: res.ContainerID,
		OK:          res.OK(),
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.engine.Registry().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleServiceEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.engine.Registry().Events(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Scratchpad handlers ---

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	names, err := s.pad.List(pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := s.pad.Read(name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}

func (s *Server) handlePutScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req putScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.pad.Write(name, req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.pad.Delete(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
