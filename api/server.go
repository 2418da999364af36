// Package api exposes the unit over HTTP: a REST surface for status,
// tags, alarms, setpoints, and commands, plus a server-sent-events
// stream of engine events. The API is a console: it only enqueues
// commands and reads snapshots, never touching scan-thread state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lactlink/engine"
)

// Server is the HTTP server for the REST API and SSE stream.
type Server struct {
	eng    *engine.Engine
	srv    *http.Server
	logFn  func(format string, args ...interface{})
}

// NewServer creates an API server over the engine.
func NewServer(eng *engine.Engine, logFn func(format string, args ...interface{})) *Server {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Server{eng: eng, logFn: logFn}
}

// routes builds the chi router for the API surface.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tags", s.handleTags)
		r.Get("/tags/{name}", s.handleTag)
		r.Get("/alarms", s.handleAlarms)
		r.Get("/setpoints", s.handleSetpoints)
		r.Post("/command", s.handleCommand)
		r.Get("/events", s.handleSSE)
	})
	return r
}

// Start begins listening on the given host and port.
func (s *Server) Start(host string, port int) error {
	r := s.routes()
	addr := fmt.Sprintf("%s:%d", host, port)
	s.srv = &http.Server{Addr: addr, Handler: r}
	s.logFn("API listening on %s", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logFn("API server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctl := s.eng.Controller()
	last, max, overruns := ctl.ScanStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unit":            s.eng.GetConfig().Unit,
		"state":           ctl.State().String(),
		"scan_count":      ctl.ScanCount(),
		"scan_time_ms":    float64(last) / float64(time.Millisecond),
		"max_scan_ms":     float64(max) / float64(time.Millisecond),
		"scan_overruns":   overruns,
		"active_alarms":   len(ctl.Annunciator().Active()),
		"unacked_alarms":  len(ctl.Annunciator().Unacked()),
	})
}

type tagJSON struct {
	Name      string      `json:"name"`
	Kind      string      `json:"kind"`
	Value     interface{} `json:"value"`
	Quality   string      `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	snap := s.eng.Controller().Store().Snapshot()
	out := make([]tagJSON, 0, len(snap))
	for name, sm := range snap {
		out = append(out, tagJSON{
			Name: name, Kind: sm.Kind.String(), Value: sm.Value(),
			Quality: sm.Quality.String(), Timestamp: sm.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sm, err := s.eng.Controller().Store().Read(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tagJSON{
		Name: name, Kind: sm.Kind.String(), Value: sm.Value(),
		Quality: sm.Quality.String(), Timestamp: sm.Timestamp,
	})
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Controller().Annunciator().Active())
}

func (s *Server) handleSetpoints(w http.ResponseWriter, r *http.Request) {
	sp := s.eng.Controller().Setpoints()
	writeJSON(w, http.StatusOK, sp.AsMap())
}

type commandRequest struct {
	Command string  `json:"command"`
	Key     string  `json:"key,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctl := s.eng.Controller()
	var err error
	switch req.Command {
	case "START":
		err = ctl.Start()
	case "STOP":
		err = ctl.Stop()
	case "PROVE":
		err = ctl.Prove()
	case "PROVE_RETURN":
		err = ctl.ProveReturn()
	case "RESET":
		err = ctl.Reset()
	case "ACK":
		err = ctl.Ack(req.Key)
	case "SILENCE":
		err = ctl.SilenceHorn()
	case "SET":
		err = ctl.Set(req.Key, req.Value)
	case "CLOSE_BATCH":
		err = ctl.CloseBatch()
	default:
		writeError(w, http.StatusBadRequest, "unknown command: "+req.Command)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
