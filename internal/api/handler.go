// Package api exposes the supervisor over HTTP and WebSocket using go-chi.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stream-orchestrator/internal/orchestrator"
	"stream-orchestrator/internal/supervisor"
)

// Handler serves the orchestrator control API.
type Handler struct {
	sup *supervisor.Supervisor
	log *slog.Logger
	ws  wsConfig
}

// NewHandler returns a Handler backed by sup.
func NewHandler(sup *supervisor.Supervisor, log *slog.Logger) *Handler {
	return &Handler{sup: sup, log: log, ws: defaultWSConfig()}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Post("/commands", h.PostCommand)
		r.Post("/subscribers", h.RegisterSubscriber)
		r.Delete("/subscribers/{client_id}", h.UnregisterSubscriber)
		r.Post("/subscribers/{client_id}/heartbeat", h.Heartbeat)
		r.Get("/ws", h.WebSocket)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type subscriberRequest struct {
	ClientID   string `json:"client_id"`
	SourceAddr string `json:"source_addr,omitempty"`
}

type subscriberResponse struct {
	StreamID orchestrator.StreamID `json:"stream_id"`
	ClientID string                `json:"client_id"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "streams": h.sup.Count()})
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streams": h.sup.Streams()})
}

// GetState handles GET /streams/{stream_id}/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))
	st, ok := h.sup.State(streamID)
	if !ok {
		h.writeError(w, supervisor.ErrUnknownStream)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PostCommand handles POST /streams/{stream_id}/commands.
// Body: { "action": "force_scene", "scene_name": "Outro" }.
func (h *Handler) PostCommand(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))
	if streamID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req orchestrator.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid command body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "bad_request"})
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.sup.Route(r.Context(), streamID, cmd); err != nil {
		h.log.Info("command rejected",
			slog.String("stream_id", string(streamID)),
			slog.String("action", req.Action),
			slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}

	st, _ := h.sup.State(streamID)
	writeJSON(w, http.StatusOK, st)
}

// RegisterSubscriber handles POST /streams/{stream_id}/subscribers. The body
// is optional; a client id is generated when none is given.
func (h *Handler) RegisterSubscriber(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))

	var req subscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "bad_request"})
		return
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if req.SourceAddr == "" {
		req.SourceAddr = r.RemoteAddr
	}

	if err := h.sup.RegisterSubscriber(r.Context(), streamID, req.ClientID, req.SourceAddr); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriberResponse{StreamID: streamID, ClientID: req.ClientID})
}

// UnregisterSubscriber handles DELETE /streams/{stream_id}/subscribers/{client_id}.
func (h *Handler) UnregisterSubscriber(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))
	clientID := chi.URLParam(r, "client_id")
	if err := h.sup.UnregisterSubscriber(r.Context(), streamID, clientID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /streams/{stream_id}/subscribers/{client_id}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))
	clientID := chi.URLParam(r, "client_id")
	if err := h.sup.Heartbeat(streamID, clientID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps an orchestrator or supervisor error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrSceneNotFound),
		errors.Is(err, supervisor.ErrUnknownStream),
		errors.Is(err, supervisor.ErrUnknownSubscriber):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidSceneConfig),
		errors.Is(err, orchestrator.ErrUnknownCommand),
		errors.Is(err, orchestrator.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotConfigured),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, orchestrator.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInternal),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	code := orchestrator.Code(err)
	switch {
	case errors.Is(err, supervisor.ErrUnknownStream):
		code = "unknown_stream"
	case errors.Is(err, supervisor.ErrUnknownSubscriber):
		code = "unknown_subscriber"
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
