package console

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/journal"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/actions"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
	"github.com/socrefy/matchdesk/go/internal/models"
)

const maxBodyBytes = 64 << 10

// Handler serves the operator console API and viewer websockets.
type Handler struct {
	rooms *Rooms
	hub   *Hub
}

func NewHandler(rooms *Rooms, hub *Hub) *Handler {
	return &Handler{rooms: rooms, hub: hub}
}

type actionBody struct {
	Reason        string `json:"reason"`
	TargetSeconds *int   `json:"target_seconds"`
}

type clockBody struct {
	Clock   string `json:"clock"`
	Seconds *int   `json:"seconds"`
}

type eventBody struct {
	QuickAction string      `json:"quick_action"`
	Team        models.Side `json:"team"`
	PlayerID    string      `json:"player_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the console routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/matches/{id}/control", h.HandleGetControl)
	mux.HandleFunc("DELETE /api/matches/{id}/control", h.HandleCloseControl)
	mux.HandleFunc("POST /api/matches/{id}/control/actions/{action}", h.HandleAction)
	mux.HandleFunc("POST /api/matches/{id}/control/clock", h.HandleAdjustClock)
	mux.HandleFunc("POST /api/matches/{id}/control/events", h.HandleCreateEvent)
	mux.HandleFunc("POST /api/matches/{id}/control/reload", h.HandleReload)
	mux.HandleFunc("POST /api/matches/{id}/control/focus", h.HandleFocus)
	mux.HandleFunc("DELETE /api/matches/{id}/control/timeout", h.HandleClearTimeout)
	mux.HandleFunc("DELETE /api/matches/{id}/control/message", h.HandleClearMessage)
	mux.HandleFunc("GET /api/matches/{id}/control/journal", h.HandleJournal)
	mux.HandleFunc("GET /ws/matches/{id}", h.HandleViewerConnection)
}

// HandleGetControl handles GET /api/matches/{id}/control
func (h *Handler) HandleGetControl(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, room.View())
}

// HandleCloseControl handles DELETE /api/matches/{id}/control. It stops the
// room's polling and push subscription; the next request opens a fresh room.
func (h *Handler) HandleCloseControl(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimSpace(r.PathValue("id"))
	if !h.rooms.Close(matchID) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "control room is not open"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAction handles POST /api/matches/{id}/control/actions/{action}
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	room, ok := h.room(w, r)
	if !ok {
		return
	}

	req := actions.Request{
		Action:        models.ControlAction(r.PathValue("action")),
		Reason:        body.Reason,
		TargetSeconds: body.TargetSeconds,
	}
	if err := room.RunControlAction(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.View())
}

// HandleAdjustClock handles POST /api/matches/{id}/control/clock
func (h *Handler) HandleAdjustClock(w http.ResponseWriter, r *http.Request) {
	var body clockBody
	if !decodeOptional(w, r, &body) {
		return
	}
	room, ok := h.room(w, r)
	if !ok {
		return
	}

	var err error
	switch {
	case body.Seconds != nil:
		err = room.AdjustClockSeconds(r.Context(), *body.Seconds)
	default:
		err = room.AdjustClock(r.Context(), body.Clock)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.View())
}

// HandleCreateEvent handles POST /api/matches/{id}/control/events
func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if !decodeOptional(w, r, &body) {
		return
	}
	room, ok := h.room(w, r)
	if !ok {
		return
	}

	event, err := room.TriggerQuickAction(r.Context(), body.QuickAction, body.Team, body.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// HandleReload handles POST /api/matches/{id}/control/reload
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}
	status := http.StatusOK
	if err := room.Reload(r.Context()); err != nil {
		if errors.Is(err, controlroom.ErrClosed) {
			writeError(w, err)
			return
		}
		status = http.StatusBadGateway
	}
	writeJSON(w, status, room.View())
}

// HandleFocus handles POST /api/matches/{id}/control/focus
func (h *Handler) HandleFocus(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}
	room.Focus(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// HandleClearTimeout handles DELETE /api/matches/{id}/control/timeout
func (h *Handler) HandleClearTimeout(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}
	room.ClearTimeout()
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearMessage handles DELETE /api/matches/{id}/control/message
func (h *Handler) HandleClearMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}
	room.ClearMessage()
	w.WriteHeader(http.StatusNoContent)
}

// HandleJournal handles GET /api/matches/{id}/control/journal?limit=N
func (h *Handler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, journal.MaxListLimit)
	}
	room, ok := h.room(w, r)
	if !ok {
		return
	}

	entries, err := room.Journal(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("match_id", room.MatchID()).Msg("failed to list journal entries")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list journal entries"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleViewerConnection handles GET /ws/matches/{id}
func (h *Handler) HandleViewerConnection(w http.ResponseWriter, r *http.Request) {
	room, ok := h.room(w, r)
	if !ok {
		return
	}

	if _, err := h.hub.Upgrade(w, r, room.MatchID(), room.View()); err != nil {
		log.Error().
			Err(err).
			Str("match_id", room.MatchID()).
			Msg("failed to upgrade websocket connection")
		return
	}
	room.Focus(r.Context())
}

func (h *Handler) room(w http.ResponseWriter, r *http.Request) (*controlroom.Room, bool) {
	matchID := strings.TrimSpace(r.PathValue("id"))
	if matchID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "match id is required"})
		return nil, false
	}
	room, err := h.rooms.Get(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return room, true
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	return false
}

// StatusFor maps a room or dispatcher error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, actions.ErrActionInFlight), errors.Is(err, actions.ErrEventInFlight):
		return http.StatusConflict
	case errors.Is(err, actions.ErrUnknownAction),
		errors.Is(err, actions.ErrInvalidClockTarget),
		errors.Is(err, controlroom.ErrInvalidClock),
		errors.Is(err, controlroom.ErrUnknownQuickAction),
		errors.Is(err, controlroom.ErrPlayerRequired),
		errors.Is(err, controlroom.ErrInvalidSide):
		return http.StatusBadRequest
	case errors.Is(err, controlroom.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, controlroom.ErrClosed):
		return http.StatusServiceUnavailable
	}
	var ce *actions.ControlError
	if errors.As(err, &ce) && ce.Kind == actions.KindConflict {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
