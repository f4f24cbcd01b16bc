// Package server exposes the turn pipeline over HTTP: the turn endpoint,
// subject sheet management, raw event intake, diagnostics, and a
// websocket stream of turn events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/fernwright/questweaver/internal/cache"
	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/internal/orchestrator"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg        config.ServerConfig
	turns      *orchestrator.Orchestrator
	memory     *memory.Service
	subjects   storage.SubjectStore
	encounters storage.EncounterStore
	responses  *cache.Cache
	hub        *Hub
	http       *http.Server
}

// New creates the server and wires its routes.
func New(cfg config.ServerConfig, turns *orchestrator.Orchestrator, mem *memory.Service, subjects storage.SubjectStore, encounters storage.EncounterStore, responses *cache.Cache) *Server {
	s := &Server{
		cfg:        cfg,
		turns:      turns,
		memory:     mem,
		subjects:   subjects,
		encounters: encounters,
		responses:  responses,
		hub:        NewHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/turn", s.handleTurn)
	mux.HandleFunc("POST /api/events", s.handleEvent)
	mux.HandleFunc("GET /api/subjects/{id}", s.handleGetSubject)
	mux.HandleFunc("GET /api/subjects/{id}/combat", s.handleGetCombat)
	mux.HandleFunc("PUT /api/subjects/{id}", s.handlePutSubject)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	handler := securityHeadersMiddleware(
		rateLimitMiddleware(cfg.RateRPS,
			authMiddleware(cfg.APIToken, mux)))

	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the turn-event broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe blocks serving HTTP until the server shuts down.
func (s *Server) ListenAndServe() error {
	log.Printf("server: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req types.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.turns.ProcessTurn(r.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	s.hub.Broadcast(TurnEvent{Type: "turn", SubjectID: req.SubjectID, Payload: result})
	writeJSON(w, http.StatusOK, result)
}

// handleEvent records a raw gameplay event outside the turn pipeline,
// used by goal-tracking integrations.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event types.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.memory.RecordEvent(r.Context(), &event)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	// A new event changes the subject's world state; cached narratives
	// built on the old state must not be served.
	s.responses.InvalidateSubject(event.SubjectID)

	s.hub.Broadcast(TurnEvent{Type: "event", SubjectID: event.SubjectID, Payload: event})
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	sheet, err := s.subjects.GetSubject(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "subject not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// handleGetCombat reports the subject's open encounter, or 404 when no
// combat is in progress.
func (s *Server) handleGetCombat(w http.ResponseWriter, r *http.Request) {
	encounter, err := s.encounters.GetOpenEncounter(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "no open encounter", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, encounter)
}

func (s *Server) handlePutSubject(w http.ResponseWriter, r *http.Request) {
	var sheet types.SubjectSheet
	if err := json.NewDecoder(r.Body).Decode(&sheet); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sheet.ID = r.PathValue("id")
	if err := sheet.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.subjects.PutSubject(r.Context(), &sheet); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.responses.InvalidateSubject(sheet.ID)
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache":          s.responses.Stats(),
		"sessions":       s.turns.Sessions().Len(),
		"stream_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("server: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.hub.Serve(r.Context(), conn)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
