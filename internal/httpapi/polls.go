// Package httpapi exposes poll record storage over REST: create a draft,
// fetch one, list recent history, end early. Live session traffic goes over
// the websocket gateway; these endpoints exist for presenter tooling.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pollroom/pollroom/internal/gateway"
	"github.com/pollroom/pollroom/internal/poll"
)

const recentPollLimit = 100

// PollCloser converges the REST end endpoint with the live closure paths so
// the terminal broadcast stays exactly-once.
type PollCloser interface {
	ClosePoll(ctx context.Context, pollID string)
}

// Handler serves the poll REST endpoints.
type Handler struct {
	polls  *poll.Lifecycle
	closer PollCloser
	auth   *TeacherAuth
}

// NewHandler creates the REST handler.
func NewHandler(polls *poll.Lifecycle, closer PollCloser, auth *TeacherAuth) *Handler {
	return &Handler{polls: polls, closer: closer, auth: auth}
}

// Routes mounts the poll endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.createPoll)
	r.Get("/", h.listPolls)
	r.Get("/{id}", h.getPoll)
	r.Post("/{id}/end", h.endPoll)
	return r
}

type createPollRequest struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	Duration           int      `json:"duration"`
	CorrectOptionIndex *int     `json:"correctOptionIndex,omitempty"`
}

func (h *Handler) createPoll(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Verify(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.polls.CreateDraft(r.Context(), poll.Draft{
		Room:               gateway.DefaultRoom,
		Question:           req.Question,
		Options:            req.Options,
		DurationSec:        req.Duration,
		CorrectOptionIndex: req.CorrectOptionIndex,
		CreatedBy:          "teacher",
	})
	if errors.Is(err, poll.ErrInvalidPoll) {
		writeError(w, http.StatusBadRequest, "Invalid poll data")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to create poll")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"poll": p})
}

func (h *Handler) getPoll(w http.ResponseWriter, r *http.Request) {
	p, err := h.polls.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, poll.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load poll")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"poll": p, "results": p.Results()})
}

func (h *Handler) listPolls(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Verify(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	polls, err := h.polls.ListRecent(r.Context(), recentPollLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list polls")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polls": polls})
}

func (h *Handler) endPoll(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Verify(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id := chi.URLParam(r, "id")

	// Route through the coordinator so the poll_ended broadcast and timer
	// cancellation happen exactly as with a live end_poll event.
	h.closer.ClosePoll(r.Context(), id)

	p, err := h.polls.Get(r.Context(), id)
	if errors.Is(err, poll.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Poll not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load poll after end")
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"poll": p})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
