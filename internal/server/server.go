// Package server exposes the orchestration engine over HTTP: starting
// instances, querying status and history, raising events, terminating, and
// reading or signaling entities.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petrijr/durable/pkg/api"
)

// Server is the HTTP adapter over an api.Engine.
type Server struct {
	engine api.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds the HTTP adapter and its routes.
func New(engine api.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /orchestrations", s.handleList)
	s.mux.HandleFunc("POST /orchestrations/{name}", s.handleStart)
	s.mux.HandleFunc("GET /orchestrations/{id}", s.handleStatus)
	s.mux.HandleFunc("GET /orchestrations/{id}/history", s.handleHistory)
	s.mux.HandleFunc("POST /orchestrations/{id}/events/{event}", s.handleRaiseEvent)
	s.mux.HandleFunc("POST /orchestrations/{id}/terminate", s.handleTerminate)
	s.mux.HandleFunc("GET /entities/{type}/{key}", s.handleReadEntity)
	s.mux.HandleFunc("POST /entities/{type}/{key}/{op}", s.handleSignalEntity)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// startRequest is the body of POST /orchestrations/{name}. Both fields are
// optional.
type startRequest struct {
	InstanceID string          `json:"instance_id"`
	Input      json.RawMessage `json:"input"`
}

// startResponse tells the caller where to check on and interact with the new
// instance. The raise URL is a template: substitute the event name.
type startResponse struct {
	InstanceID    string `json:"instance_id"`
	StatusURL     string `json:"status_url"`
	RaiseEventURL string `json:"raise_event_url"`
	TerminateURL  string `json:"terminate_url"`
}

type instanceResponse struct {
	InstanceID   string `json:"instance_id"`
	Orchestrator string `json:"orchestrator"`
	Status       string `json:"status"`
	Output       any    `json:"output,omitempty"`
	Fault        string `json:"fault,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, api.NewValidationError("malformed request body: %v", err))
		return
	}

	var input any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			s.writeError(w, r, api.NewValidationError("malformed input payload: %v", err))
			return
		}
	}

	id, err := s.engine.Start(r.Context(), name, req.InstanceID, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{
		InstanceID:    id,
		StatusURL:     "/orchestrations/" + id,
		RaiseEventURL: "/orchestrations/" + id + "/events/{event}",
		TerminateURL:  "/orchestrations/" + id + "/terminate",
	})
}

// handleStatus returns 200 for terminal instances and 202 for instances that
// are still running, so pollers can branch on the status code alone.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := http.StatusAccepted
	if inst.Status.IsTerminal() {
		code = http.StatusOK
	}
	writeJSON(w, code, toInstanceResponse(inst))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.GetHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type eventResponse struct {
		Sequence int64  `json:"sequence"`
		TaskID   int    `json:"task_id"`
		Type     string `json:"type"`
		At       string `json:"at"`
		Name     string `json:"name,omitempty"`
		Entity   string `json:"entity,omitempty"`
		FireAt   string `json:"fire_at,omitempty"`
		Payload  any    `json:"payload,omitempty"`
		Fault    string `json:"fault,omitempty"`
	}

	out := make([]eventResponse, 0, len(history))
	for _, ev := range history {
		resp := eventResponse{
			Sequence: ev.Sequence,
			TaskID:   ev.TaskID,
			Type:     string(ev.Type),
			At:       ev.At.UTC().Format(time.RFC3339Nano),
			Name:     ev.Name,
			Entity:   ev.Entity,
			Payload:  ev.Payload,
			Fault:    ev.Fault,
		}
		if !ev.FireAt.IsZero() {
			resp.FireAt = ev.FireAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := api.InstanceFilter{
		Orchestrator: r.URL.Query().Get("orchestrator"),
		Status:       api.Status(r.URL.Query().Get("status")),
	}

	instances, err := s.engine.ListInstances(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		out = append(out, toInstanceResponse(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRaiseEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.RaiseEvent(r.Context(), r.PathValue("id"), r.PathValue("event"), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, api.NewValidationError("malformed request body: %v", err))
		return
	}

	if err := s.engine.Terminate(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handleReadEntity(w http.ResponseWriter, r *http.Request) {
	id := api.NewEntityID(r.PathValue("type"), r.PathValue("key"))

	state, err := s.engine.ReadEntity(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": id.String(), "state": state})
}

func (s *Server) handleSignalEntity(w http.ResponseWriter, r *http.Request) {
	id := api.NewEntityID(r.PathValue("type"), r.PathValue("key"))

	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.SignalEntity(r.Context(), id, r.PathValue("op"), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// decodePayload decodes an optional JSON body into a generic payload value.
func decodePayload(r *http.Request) (any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, api.NewValidationError("reading request body: %v", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, api.NewValidationError("malformed payload: %v", err)
	}
	return payload, nil
}

// writeError maps engine errors onto HTTP status codes. Unclassified errors
// are logged with detail but returned redacted.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case api.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case api.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case api.IsConflict(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func toInstanceResponse(inst *api.Instance) instanceResponse {
	return instanceResponse{
		InstanceID:   inst.ID,
		Orchestrator: inst.Orchestrator,
		Status:       string(inst.Status),
		Output:       inst.Output,
		Fault:        inst.Fault,
		CreatedAt:    inst.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
